package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/faucetdb/keygate/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		serverURL  string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI specification",
		Long: `Generate the OpenAPI 3.1 description of the keygate HTTP API: the admin
endpoints and the protected completion surface.`,
		Example: `  keygate openapi
  keygate openapi --server-url https://gateway.example.com -o openapi.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(serverURL, outputFile)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server-url", "http://localhost:4141", "Server URL to advertise")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write to file instead of stdout")

	return cmd
}

func runOpenAPI(serverURL, outputFile string) error {
	doc := openapi.GatewaySpec(serverURL)
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal openapi: %w", err)
	}

	if outputFile == "" {
		fmt.Println(string(b))
		return nil
	}
	if err := os.WriteFile(outputFile, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outputFile, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", outputFile)
	return nil
}
