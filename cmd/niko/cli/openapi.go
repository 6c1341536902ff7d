package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nikoai/niko/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		baseURL    string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI document",
		Long: `Generate an OpenAPI 3 document for the HTTP API. Rate-limit policies
from the configuration are included as x-ratelimit-* extensions.`,
		Example: `  niko openapi
  niko openapi --base-url https://api.example.com -o openapi.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(baseURL, outputFile)
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "Server URL written into the document")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the document to a file instead of stdout")

	return cmd
}

func runOpenAPI(baseURL, outputFile string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	policies, err := cfg.Policies()
	if err != nil {
		return err
	}

	jsonBytes, err := json.MarshalIndent(openapi.Generate(baseURL, policies), "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if outputFile == "" {
		fmt.Println(string(jsonBytes))
		return nil
	}
	if err := os.WriteFile(outputFile, jsonBytes, 0644); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", outputFile)
	return nil
}
