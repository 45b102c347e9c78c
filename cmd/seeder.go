package cmd

import (
	"errors"
	"fmt"
	"log"

	"github.com/frahmantamala/viso/internal/core/datamodel/access"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

type seedGrant struct {
	Role      string
	Code      string
	ScopeType string
}

var seedPermissions = []struct {
	Code string
	Desc string
}{
	{"access", "Open the VISO admin module"},
	{"staff.view", "View staff"},
	{"staff.manage", "Create and edit staff"},
	{"businesses.view", "View Pass businesses"},
	{"businesses.manage", "Create and edit Pass businesses"},
	{"pass_users.view", "View Pass users"},
}

var seedGrants = []seedGrant{
	{"propietario", "access", "global"},
	{"propietario", "staff.view", "global"},
	{"propietario", "staff.manage", "global"},
	{"propietario", "businesses.view", "global"},
	{"propietario", "businesses.manage", "global"},
	{"propietario", "pass_users.view", "global"},
	{"gerente_general", "access", "global"},
	{"gerente_general", "staff.view", "global"},
	{"gerente_general", "businesses.view", "global"},
	{"gerente_general", "pass_users.view", "global"},
	{"gerente", "access", "global"},
	{"gerente", "staff.view", "site"},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the access catalog",
	Long:  `Seed the VISO app, its permission codes and the default role grants.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		sqlDB, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer sqlDB.Close()

		db, err := initGormDB(sqlDB)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		if err := seedAccess(db, cfg.Auth.AppID, clearData); err != nil {
			log.Fatalf("seed failed: %v", err)
		}
		fmt.Println("Access catalog seeded for app:", cfg.Auth.AppID)
	},
}

func seedAccess(db *gorm.DB, appCode string, clear bool) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var app access.App
		err := tx.Where("code = ?", appCode).Take(&app).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			app = access.App{ID: uuid.NewString(), Code: appCode, Name: "VISO"}
			if err := tx.Create(&app).Error; err != nil {
				return fmt.Errorf("insert app: %w", err)
			}
			fmt.Println("Seeded app:", appCode)
		case err != nil:
			return fmt.Errorf("lookup app: %w", err)
		}

		permIDs := make(map[string]string, len(seedPermissions))
		for _, p := range seedPermissions {
			var perm access.AppPermission
			err := tx.Where("app_id = ? AND code = ?", app.ID, p.Code).Take(&perm).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				perm = access.AppPermission{ID: uuid.NewString(), AppID: app.ID, Code: p.Code, Description: p.Desc}
				if err := tx.Create(&perm).Error; err != nil {
					return fmt.Errorf("insert permission %s: %w", p.Code, err)
				}
				fmt.Printf("Seeded permission: %s.%s\n", appCode, p.Code)
			} else if err != nil {
				return fmt.Errorf("lookup permission %s: %w", p.Code, err)
			}
			permIDs[p.Code] = perm.ID
		}

		if clear {
			ids := make([]string, 0, len(permIDs))
			for _, id := range permIDs {
				ids = append(ids, id)
			}
			if err := tx.Where("permission_id IN ?", ids).Delete(&access.RolePermission{}).Error; err != nil {
				return fmt.Errorf("clear grants: %w", err)
			}
		}

		for _, g := range seedGrants {
			var n int64
			q := tx.Model(&access.RolePermission{}).
				Where("role = ? AND permission_id = ? AND scope_type = ?", g.Role, permIDs[g.Code], g.ScopeType)
			if err := q.Count(&n).Error; err != nil {
				return fmt.Errorf("lookup grant %s/%s: %w", g.Role, g.Code, err)
			}
			if n > 0 {
				continue
			}
			scope := g.ScopeType
			grant := access.RolePermission{
				ID:           uuid.NewString(),
				Role:         g.Role,
				PermissionID: permIDs[g.Code],
				IsAllowed:    true,
				ScopeType:    &scope,
			}
			if err := tx.Create(&grant).Error; err != nil {
				return fmt.Errorf("insert grant %s/%s: %w", g.Role, g.Code, err)
			}
		}
		fmt.Printf("Granted %d role permissions\n", len(seedGrants))
		return nil
	})
}
