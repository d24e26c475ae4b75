package report

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"patch-fleet/pkg/model"
)

// RunRecord is the central-store row for one fleet run.
type RunRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Cancelled   bool      `json:"cancelled"`
	HostsTotal  int       `json:"hostsTotal"`
	HostsFailed int       `json:"hostsFailed"`
	Report      string    `gorm:"type:longtext" json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store is the MySQL-backed central run store shared by all patcher
// machines and served by the controller.
type Store struct {
	db *gorm.DB
}

// OpenMySQL connects using the environment and runs migrations.
// Env: MYSQL_DSN or MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASS, MYSQL_DB.
func OpenMySQL() (*Store, error) {
	host := getenv("MYSQL_HOST", "127.0.0.1")
	port := getenv("MYSQL_PORT", "3306")
	user := getenv("MYSQL_USER", "root")
	pass := getenv("MYSQL_PASS", "")
	dbname := getenv("MYSQL_DB", "patch_fleet")

	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", user, pass, host, port, dbname)
	}

	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	db, err := gorm.Open(mysql.Open(dsn), cfg)
	if err != nil {
		if strings.Contains(err.Error(), "Unknown database") {
			if cerr := createDatabase(user, pass, host, port, dbname); cerr != nil {
				return nil, fmt.Errorf("create database failed: %w", cerr)
			}
			db, err = gorm.Open(mysql.Open(dsn), cfg)
			if err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}
	}
	sqlDB, _ := db.DB()
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	if err := db.AutoMigrate(&RunRecord{}, &model.User{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for the auth layer's user table.
func (s *Store) DB() *gorm.DB { return s.db }

// SaveRun persists a finished fleet report and returns its id.
func (s *Store) SaveRun(rep model.FleetReport) (uint, error) {
	blob, err := json.Marshal(rep)
	if err != nil {
		return 0, err
	}
	rec := RunRecord{
		StartedAt:   rep.StartedAt,
		FinishedAt:  rep.FinishedAt,
		Cancelled:   rep.Cancelled,
		HostsTotal:  len(rep.Hosts),
		HostsFailed: rep.Failed(),
		Report:      string(blob),
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return 0, fmt.Errorf("save run: %w", err)
	}
	return rec.ID, nil
}

// ListRuns returns the newest runs first, without report blobs.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []RunRecord
	err := s.db.
		Select("id", "started_at", "finished_at", "cancelled", "hosts_total", "hosts_failed", "created_at").
		Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}

// GetRun loads the full report for one run.
func (s *Store) GetRun(id uint) (model.FleetReport, bool, error) {
	var rec RunRecord
	err := s.db.First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.FleetReport{}, false, nil
	}
	if err != nil {
		return model.FleetReport{}, false, err
	}
	var rep model.FleetReport
	if err := json.Unmarshal([]byte(rec.Report), &rep); err != nil {
		return model.FleetReport{}, false, fmt.Errorf("decode run %d: %w", id, err)
	}
	return rep, true, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func createDatabase(user, pass, host, port, dbname string) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/", user, pass, host, port)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` DEFAULT CHARACTER SET utf8mb4", dbname))
	return err
}
