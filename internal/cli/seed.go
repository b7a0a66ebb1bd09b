package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"nexurabuild/pkg/domain"
)

// Inventory is the YAML seed document.
type Inventory struct {
	Users      []SeedUser      `yaml:"users"`
	Apartments []SeedApartment `yaml:"apartments"`
}

// SeedUser is one user entry of an inventory file.
type SeedUser struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
	Role  string `yaml:"role"`
}

// SeedApartment is one apartment entry of an inventory file.
type SeedApartment struct {
	ApartmentNo string  `yaml:"apartment_no"`
	FloorNo     int     `yaml:"floor_no"`
	BlockName   string  `yaml:"block_name"`
	Rent        float64 `yaml:"rent"`
	Image       string  `yaml:"apartment_image"`
}

// LoadInventory parses an inventory file.
func LoadInventory(path string) (Inventory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Inventory{}, fmt.Errorf("read inventory: %w", err)
	}
	var inv Inventory
	if err := yaml.Unmarshal(raw, &inv); err != nil {
		return Inventory{}, fmt.Errorf("parse inventory %s: %w", path, err)
	}
	return inv, nil
}

func (a *app) seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load users and apartments from a YAML inventory",
		Long:  "Existing users (by email) and apartments (by apartment_no) are left untouched, so seeding is safe to repeat.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv, err := LoadInventory(file)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			svc, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			var users, apartments int
			for _, u := range inv.Users {
				created, err := svc.SeedUser(ctx, domain.User{Name: u.Name, Email: u.Email, Role: domain.Role(u.Role)})
				if err != nil {
					return fmt.Errorf("seed user %s: %w", u.Email, err)
				}
				if created {
					users++
				}
			}
			for _, apt := range inv.Apartments {
				created, err := svc.AddApartment(ctx, domain.Apartment{
					ApartmentNo: apt.ApartmentNo,
					FloorNo:     apt.FloorNo,
					BlockName:   apt.BlockName,
					Rent:        apt.Rent,
					Image:       apt.Image,
				})
				if err != nil {
					return fmt.Errorf("seed apartment %s: %w", apt.ApartmentNo, err)
				}
				if created {
					apartments++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users, %d apartments\n", users, apartments)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "inventory YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
