package inventory

import (
	"context"

	"github.com/rs/zerolog"
	"lattis/internal/logger"
	"lattis/internal/store"
)

// Provisioner creates shelves together with their fixed grid of load cells
// and a derived QR credential artifact.
type Provisioner struct {
	store       *store.Store
	credentials *CredentialIssuer
	floors      int
	columns     int
	logger      zerolog.Logger
}

// NewProvisioner creates a shelf provisioner with the configured grid size
func NewProvisioner(st *store.Store, credentials *CredentialIssuer, floors, columns int) *Provisioner {
	return &Provisioner{
		store:       st,
		credentials: credentials,
		floors:      floors,
		columns:     columns,
		logger:      logger.GetLogger("inventory.provision"),
	}
}

// ShelfSpec describes a shelf to provision
type ShelfSpec struct {
	ShelfCode string  `json:"shelf_code"`
	Name      string  `json:"name"`
	MacIP     string  `json:"mac_ip"`
	Location  string  `json:"location"`
	UserIDs   []int64 `json:"user_ids"`
}

// Provision creates the shelf and its load-cell grid atomically, then
// issues the credential artifact as a best-effort second phase. When the
// second phase fails the shelf remains with credential_state=pending and
// the failure is logged, not surfaced.
func (p *Provisioner) Provision(ctx context.Context, spec *ShelfSpec) (*store.Shelf, error) {
	name := spec.Name
	if name == "" {
		name = spec.ShelfCode
	}

	shelf := &store.Shelf{
		ShelfCode: spec.ShelfCode,
		Name:      name,
		MacIP:     spec.MacIP,
		Location:  spec.Location,
		UserIDs:   spec.UserIDs,
	}

	created, err := p.store.CreateShelfWithGrid(ctx, shelf, p.floors, p.columns)
	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Int64("shelf_id", created.ID).
		Str("shelf_code", created.ShelfCode).
		Str("mac_ip", created.MacIP).
		Int("load_cells", p.floors*p.columns).
		Msg("Shelf provisioned")

	path, err := p.credentials.Issue(created.ID, created.UserIDs)
	if err != nil {
		p.logger.Error().
			Err(err).
			Int64("shelf_id", created.ID).
			Msg("Credential generation failed, shelf left pending")
		return created, nil
	}

	if err := p.store.SetShelfCredential(ctx, created.ID, path); err != nil {
		p.logger.Error().
			Err(err).
			Int64("shelf_id", created.ID).
			Msg("Failed to record credential path, shelf left pending")
		return created, nil
	}

	created.CredentialPath = path
	created.CredentialState = store.CredentialReady

	return created, nil
}
