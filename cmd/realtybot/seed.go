package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"realty-bot/internal/domain"
	"realty-bot/internal/repository"
)

// seedFile is the YAML layout accepted by `realtybot seed`.
type seedFile struct {
	Tenants []seedTenant `yaml:"tenants"`
}

type seedTenant struct {
	ID               string        `yaml:"id"`
	Name             string        `yaml:"name"`
	InboundChannel   string        `yaml:"inbound_channel"`
	EscalationTarget string        `yaml:"escalation_target"`
	Persona          string        `yaml:"persona"`
	Active           *bool         `yaml:"active"`
	Listings         []seedListing `yaml:"listings"`
}

type seedListing struct {
	ID           string   `yaml:"id"`
	Type         string   `yaml:"type"`
	Neighborhood string   `yaml:"neighborhood"`
	City         string   `yaml:"city"`
	Price        float64  `yaml:"price"`
	Bedrooms     *int     `yaml:"bedrooms"`
	AreaM2       *float64 `yaml:"area_m2"`
	Purpose      string   `yaml:"purpose"`
	Status       string   `yaml:"status"`
	Furnished    bool     `yaml:"furnished"`
	PetFriendly  bool     `yaml:"pet_friendly"`
}

func newSeedCmd() *cobra.Command {
	var (
		file string
		dsn  string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create or update tenants and listings from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			if dsn == "" {
				dsn = os.Getenv("DATABASE_URL")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("seed: read %s: %w", file, err)
			}
			db, err := repository.Open(dsn)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			store, err := repository.NewStore(db)
			if err != nil {
				return err
			}
			return runSeed(cmd.Context(), cmd.OutOrStdout(), store, data)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "seed.yaml", "seed file")
	cmd.Flags().StringVar(&dsn, "dsn", "", "record store DSN (defaults to $DATABASE_URL)")
	return cmd
}

type seedStore interface {
	AutoMigrate(ctx context.Context) error
	UpsertTenant(ctx context.Context, t domain.Tenant) (domain.Tenant, error)
	UpsertListing(ctx context.Context, l domain.Listing) (domain.Listing, error)
}

func runSeed(ctx context.Context, out io.Writer, store seedStore, data []byte) error {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("seed: parse: %w", err)
	}
	for i, t := range f.Tenants {
		if strings.TrimSpace(t.Name) == "" || strings.TrimSpace(t.InboundChannel) == "" {
			return fmt.Errorf("seed: tenants[%d]: name and inbound_channel are required", i)
		}
	}
	if err := store.AutoMigrate(ctx); err != nil {
		return err
	}

	listings := 0
	for _, st := range f.Tenants {
		active := st.Active == nil || *st.Active
		tenant, err := store.UpsertTenant(ctx, domain.Tenant{
			ID:               st.ID,
			Name:             st.Name,
			InboundChannel:   st.InboundChannel,
			EscalationTarget: st.EscalationTarget,
			Persona:          st.Persona,
			Active:           active,
		})
		if err != nil {
			return err
		}
		for _, sl := range st.Listings {
			_, err := store.UpsertListing(ctx, domain.Listing{
				ID:           sl.ID,
				TenantID:     tenant.ID,
				Type:         sl.Type,
				Neighborhood: sl.Neighborhood,
				City:         sl.City,
				Price:        sl.Price,
				Bedrooms:     sl.Bedrooms,
				AreaM2:       sl.AreaM2,
				Purpose:      sl.Purpose,
				Status:       sl.Status,
				Furnished:    sl.Furnished,
				PetFriendly:  sl.PetFriendly,
			})
			if err != nil {
				return err
			}
			listings++
		}
		fmt.Fprintf(out, "tenant %s (%s) channel=%s\n", tenant.Name, tenant.ID, tenant.InboundChannel)
	}
	fmt.Fprintf(out, "seeded %d tenants, %d listings\n", len(f.Tenants), listings)
	return nil
}
