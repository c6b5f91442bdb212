package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/mirrorfs/mirrorfs/pkg/config"
)

var (
	initForce    bool
	schemaOutput string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultConfigPath()
		}

		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}

		if err := config.Save(config.GetDefaultConfig(), path); err != nil {
			return err
		}
		cmd.Printf("Configuration written to %s\n", path)
		return nil
	},
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate the JSON schema for the configuration file",
	Long: `Generate a JSON schema for the MirrorFS configuration file, usable for
IDE autocompletion and validation.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		reflector := jsonschema.Reflector{
			AllowAdditionalProperties: false,
			DoNotReference:            true,
		}

		schema := reflector.Reflect(&config.Config{})
		schema.Version = "https://json-schema.org/draft/2020-12/schema"
		schema.Title = "MirrorFS Configuration"
		schema.Description = "Configuration schema for the mirrorfs binary"

		schemaJSON, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to generate schema: %w", err)
		}

		if schemaOutput != "" {
			if err := os.WriteFile(schemaOutput, schemaJSON, 0644); err != nil {
				return fmt.Errorf("failed to write schema file: %w", err)
			}
			cmd.Printf("JSON schema written to %s\n", schemaOutput)
			return nil
		}

		cmd.Println(string(schemaJSON))
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	configSchemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "output file (default: stdout)")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSchemaCmd)
}
