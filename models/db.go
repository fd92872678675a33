package models

import (
	"database/sql"
	"log"
	"strings"
	"time"

	"ReelForge-server/config"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *sql.DB
var GormDB *gorm.DB

// 建表语句内嵌，启动时逐条执行（表已存在则跳过）
const schemaDDL = `
CREATE TABLE IF NOT EXISTS video_task (
    id VARCHAR(64) PRIMARY KEY,
    status VARCHAR(32) NOT NULL,
    progress INT NOT NULL DEFAULT 0,
    project_data JSON,
    shots JSON,
    background_music_url TEXT,
    error TEXT,
    created_at DATETIME,
    updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS single_generation_task (
    id VARCHAR(64) PRIMARY KEY,
    type VARCHAR(16) NOT NULL,
    status VARCHAR(32) NOT NULL,
    request_data JSON,
    url TEXT,
    error TEXT,
    created_at DATETIME,
    updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS video_export (
    id VARCHAR(64) PRIMARY KEY,
    video_id VARCHAR(64) NOT NULL,
    status VARCHAR(32) NOT NULL,
    tracks JSON,
    video_url TEXT,
    thumbnail_url TEXT,
    error TEXT,
    created_at DATETIME,
    updated_at DATETIME,
    INDEX idx_video_export_video_id (video_id)
)`

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
		log.Fatalf("failed to connect database: %v", err)
	}

	DB = db
	GormDB, err = gorm.Open(mysql.New(mysql.Config{
		Conn: DB,
	}), &gorm.Config{})
	if err != nil {
		log.Fatalf("gorm init failed: %v", err)
	}

	log.Println("database connected (Native SQL + GORM)")

	for _, stmt := range strings.Split(schemaDDL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := DB.Exec(stmt); err != nil {
			log.Printf("schema statement failed: %v", err)
		}
	}
}

// BulkTaskStatus 批量查询任务状态（原生 SQL，避免整行 JSON 反序列化）
func BulkTaskStatus(taskIDs []string) (map[string]TaskStatusSummary, error) {
	statuses := make(map[string]TaskStatusSummary, len(taskIDs))
	if len(taskIDs) == 0 {
		return statuses, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(taskIDs)), ",")
	args := make([]interface{}, len(taskIDs))
	for i, id := range taskIDs {
		args[i] = id
	}
	rows, err := DB.Query(
		`SELECT id, status, progress, created_at, updated_at FROM video_task WHERE id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var s TaskStatusSummary
		var createdAt, updatedAt sql.NullTime
		if err := rows.Scan(&s.ID, &s.Status, &s.Progress, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if createdAt.Valid {
			s.CreatedAt = createdAt.Time
		}
		if updatedAt.Valid {
			s.UpdatedAt = updatedAt.Time
		}
		statuses[s.ID] = s
	}
	return statuses, rows.Err()
}
