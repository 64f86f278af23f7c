package seeders

import (
	"log"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"expense-approval/internal/models"
)

// SeedDefaultGroups creates the standard approver group ladder. Names
// are upserted so redeploys keep priorities stable without duplicating
// rows.
func SeedDefaultGroups(db *gorm.DB) error {
	groups := []models.ApproverGroup{
		{Name: "Team Lead", Priority: 3, IsActive: true},
		{Name: "Department Manager", Priority: 5, IsActive: true},
		{Name: "Finance", Priority: 6, IsActive: true},
		{Name: "Director", Priority: 8, IsActive: true},
		{Name: "Executive", Priority: 10, IsActive: true},
	}

	for _, group := range groups {
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_active", "updated_at"}),
		}).Create(&group)

		if result.Error != nil {
			log.Printf("Failed to seed approver group %s: %v", group.Name, result.Error)
			return result.Error
		}
		log.Printf("Seeded approver group: %s (priority %d)", group.Name, group.Priority)
	}

	return nil
}
