package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"lattis/internal/inventory"
	"lattis/internal/realtime"
	"lattis/internal/store"
)

var (
	provisionCode     string
	provisionName     string
	provisionMacIP    string
	provisionLocation string
	provisionUsers    []int64
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision a new shelf",
	Long: `Creates a shelf and its full load-cell grid directly against the
database, then issues its credential artifact. Use this for initial fleet
setup when the daemon is not running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfiguration()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if provisionCode == "" || provisionMacIP == "" {
			return fmt.Errorf("--code and --mac are required")
		}

		st, err := store.NewStore(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		defer st.Close()

		broadcaster := realtime.NewBroadcaster()
		defer broadcaster.Close()

		credentials := inventory.NewCredentialIssuer(
			cfg.Credentials.SecretKey, cfg.Credentials.Issuer, cfg.Credentials.Dir)
		provisioner := inventory.NewProvisioner(st, credentials, cfg.Shelf.Floors, cfg.Shelf.Columns)

		shelf, err := provisioner.Provision(context.Background(), &inventory.ShelfSpec{
			ShelfCode: provisionCode,
			Name:      provisionName,
			MacIP:     provisionMacIP,
			Location:  provisionLocation,
			UserIDs:   provisionUsers,
		})
		if err != nil {
			return fmt.Errorf("failed to provision shelf: %w", err)
		}

		cmd.Printf("Shelf %s created (id %d, %d cells)\n",
			shelf.ShelfCode, shelf.ID, cfg.Shelf.Floors*cfg.Shelf.Columns)
		cmd.Printf("Credential state: %s\n", shelf.CredentialState)
		if shelf.CredentialPath != "" {
			cmd.Printf("Credential artifact: %s\n", shelf.CredentialPath)
		}

		return nil
	},
}

func init() {
	provisionCmd.Flags().StringVar(&provisionCode, "code", "", "unique shelf code")
	provisionCmd.Flags().StringVar(&provisionName, "name", "", "display name")
	provisionCmd.Flags().StringVar(&provisionMacIP, "mac", "", "device identifier (mac_ip)")
	provisionCmd.Flags().StringVar(&provisionLocation, "location", "", "physical location")
	provisionCmd.Flags().Int64SliceVar(&provisionUsers, "user", nil, "assigned user id (repeatable)")
}
