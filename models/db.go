package models

import (
	"database/sql"
	"log"
	"os"
	"strings"
	"time"

	"BriefToVideo-server/config"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *sql.DB
var GormDB *gorm.DB

func InitDB() {
	if config.AppConfig == nil {
		log.Fatal("config.AppConfig is nil, call config.InitConfig first")
	}
	dsn := config.AppConfig.MySQL.DSN
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	DB = db
	GormDB, err = gorm.Open(mysql.New(mysql.Config{
		Conn: DB,
	}), &gorm.Config{})
	if err != nil {
		log.Fatalf("GORM init failed: %v", err)
	}

	log.Println("database connected (native SQL + GORM)")

	// Bootstrap tables from doc/sql/BriefToVideo.sql when present.
	b, err := os.ReadFile("doc/sql/BriefToVideo.sql")
	if err != nil {
		log.Printf("failed to read SQL file (skipping table bootstrap): %v", err)
		return
	}
	sqls := strings.Split(string(b), ";")
	for _, s := range sqls {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, err := DB.Exec(s); err != nil {
			log.Printf("failed to execute bootstrap statement: %v ; sql: %s", err, s)
		}
	}
}

// Project CRUD
func CreateProject(p *Project) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := DB.Exec(
		`INSERT INTO project (id, mode, idea, character_desc, product_desc, reference_image_id, config_flavor, audio_url, audio_id, audio_start, audio_end, status, completed_scenes, failed_scenes, final_video_url, error_message, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Mode, p.Idea, p.CharacterDesc, p.ProductDesc, p.ReferenceImageID, p.ConfigFlavor, p.AudioURL, p.AudioID, p.AudioStart, p.AudioEnd, p.Status, p.CompletedScenes, p.FailedScenes, p.FinalVideoURL, p.ErrorMessage, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func GetProjectByID(id string) (Project, error) {
	var p Project
	row := DB.QueryRow(`SELECT id, mode, idea, character_desc, product_desc, reference_image_id, config_flavor, audio_url, audio_id, audio_start, audio_end, status, completed_scenes, failed_scenes, final_video_url, error_message, created_at, updated_at FROM project WHERE id = ?`, id)
	var createdAt, updatedAt time.Time
	if err := row.Scan(&p.ID, &p.Mode, &p.Idea, &p.CharacterDesc, &p.ProductDesc, &p.ReferenceImageID, &p.ConfigFlavor, &p.AudioURL, &p.AudioID, &p.AudioStart, &p.AudioEnd, &p.Status, &p.CompletedScenes, &p.FailedScenes, &p.FinalVideoURL, &p.ErrorMessage, &createdAt, &updatedAt); err != nil {
		return p, err
	}
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	return p, nil
}

// ListProjectsByStatus is the secondary lookup used by the recovery endpoint
// to find projects stuck in a non-terminal status.
func ListProjectsByStatus(status string) ([]Project, error) {
	rows, err := DB.Query(`SELECT id, mode, idea, character_desc, product_desc, reference_image_id, config_flavor, audio_url, audio_id, audio_start, audio_end, status, completed_scenes, failed_scenes, final_video_url, error_message, created_at, updated_at FROM project WHERE status = ? ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Project
	for rows.Next() {
		var p Project
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&p.ID, &p.Mode, &p.Idea, &p.CharacterDesc, &p.ProductDesc, &p.ReferenceImageID, &p.ConfigFlavor, &p.AudioURL, &p.AudioID, &p.AudioStart, &p.AudioEnd, &p.Status, &p.CompletedScenes, &p.FailedScenes, &p.FinalVideoURL, &p.ErrorMessage, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = createdAt
		p.UpdatedAt = updatedAt
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProjectFields applies a partial update to a project row.
func UpdateProjectFields(db *gorm.DB, projectID string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	return db.Model(&Project{}).Where("id = ?", projectID).Updates(fields).Error
}

func DeleteProjectByID(id string) error {
	if _, err := DB.Exec(`DELETE FROM scene WHERE project_id = ?`, id); err != nil {
		return err
	}
	if _, err := DB.Exec(`DELETE FROM generation_run WHERE project_id = ?`, id); err != nil {
		return err
	}
	_, err := DB.Exec(`DELETE FROM project WHERE id = ?`, id)
	return err
}
