package model

import (
	"time"
)

// Project 小说项目
type Project struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	UserID           int64     `gorm:"not null;index" json:"user_id"`
	Title            string    `gorm:"size:200;not null" json:"title"`
	Blueprint        JSONMap   `gorm:"type:json" json:"blueprint,omitempty"`
	WorldSetting     JSONMap   `gorm:"type:json" json:"world_setting,omitempty"`
	GenerationConfig JSONMap   `gorm:"type:json" json:"generation_config,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Project) TableName() string {
	return "novel_projects"
}

// Character 蓝图角色
type Character struct {
	ID                        int64     `gorm:"primaryKey" json:"id"`
	ProjectID                 string    `gorm:"size:36;not null;index" json:"project_id"`
	Name                      string    `gorm:"size:100;not null" json:"name"`
	Identity                  string    `gorm:"type:text" json:"identity"`
	Personality               string    `gorm:"type:text" json:"personality"`
	Goals                     string    `gorm:"type:text" json:"goals"`
	Abilities                 string    `gorm:"type:text" json:"abilities"`
	RelationshipToProtagonist string    `gorm:"type:text" json:"relationship_to_protagonist"`
	Position                  int       `gorm:"default:0" json:"position"`
	Extra                     JSONMap   `gorm:"type:json" json:"extra,omitempty"`
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

func (Character) TableName() string {
	return "blueprint_characters"
}

// Volume 卷
type Volume struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	ProjectID    string    `gorm:"size:36;not null;uniqueIndex:idx_volume_project_number" json:"project_id"`
	VolumeNumber int       `gorm:"not null;uniqueIndex:idx_volume_project_number" json:"volume_number"`
	Title        string    `gorm:"size:200" json:"title"`
	Description  string    `gorm:"type:text" json:"description"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Volume) TableName() string {
	return "volumes"
}

// ChapterOutline 章节大纲
type ChapterOutline struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	ProjectID     string    `gorm:"size:36;not null;uniqueIndex:idx_outline_project_chapter" json:"project_id"`
	VolumeID      *int64    `gorm:"index" json:"volume_id,omitempty"`
	ChapterNumber int       `gorm:"not null;uniqueIndex:idx_outline_project_chapter" json:"chapter_number"`
	Title         string    `gorm:"size:200" json:"title"`
	Summary       string    `gorm:"type:text" json:"summary"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (ChapterOutline) TableName() string {
	return "chapter_outlines"
}

const (
	ChapterStatusDraft      = "draft"
	ChapterStatusGenerated  = "generated"
	ChapterStatusSuccessful = "successful"
)

// Chapter 章节
type Chapter struct {
	ID                int64       `gorm:"primaryKey" json:"id"`
	ProjectID         string      `gorm:"size:36;not null;uniqueIndex:idx_chapter_project_number" json:"project_id"`
	VolumeID          *int64      `gorm:"index" json:"volume_id,omitempty"`
	ChapterNumber     int         `gorm:"not null;uniqueIndex:idx_chapter_project_number" json:"chapter_number"`
	Status            string      `gorm:"size:20;default:draft" json:"status"` // draft, generated, successful
	Summary           string      `gorm:"type:text" json:"summary"`
	KeyEvents         StringArray `gorm:"type:json" json:"key_events,omitempty"`
	WordCount         int         `gorm:"default:0" json:"word_count"`
	SelectedVersionID *int64      `json:"selected_version_id,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`

	Versions []ChapterVersion `gorm:"foreignKey:ChapterID" json:"versions,omitempty"`
}

func (Chapter) TableName() string {
	return "chapters"
}

// ChapterVersion 章节候选版本
type ChapterVersion struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	ChapterID    int64     `gorm:"not null;index" json:"chapter_id"`
	VersionIndex int       `gorm:"not null" json:"version_index"`
	Content      string    `json:"content"`
	Metadata     JSONMap   `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (ChapterVersion) TableName() string {
	return "chapter_versions"
}
