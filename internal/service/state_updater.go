package service

import (
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/novel_go_server/internal/model"
	"github.com/qs3c/novel_go_server/internal/pkg/logger"
	"github.com/qs3c/novel_go_server/internal/repository"
)

const (
	FeatureCharacterTracking     = "character_tracking"
	FeatureNewCharacterDetection = "new_character_detection"
	FeatureWorldExpansion        = "world_expansion"
	FeatureForeshadowing         = "foreshadowing"

	maxFuzzyNameDiff = 2
)

var worldKeys = []string{"locations", "factions", "items", "rules"}

// EnhancedFeatures generation_config.enhanced_features 下的开关，默认全部开启
func EnhancedFeatures(cfg model.JSONMap) map[string]bool {
	flags := cfg.Map("enhanced_features")
	out := make(map[string]bool, 4)
	for _, key := range []string{FeatureCharacterTracking, FeatureNewCharacterDetection, FeatureWorldExpansion, FeatureForeshadowing} {
		out[key] = flags.Bool(key, true)
	}
	return out
}

// StateChanges 一次应用的变更统计
type StateChanges struct {
	UpdatedCharacters []string `json:"updated_characters"`
	AddedCharacters   []string `json:"added_characters"`
	WorldUpdated      bool     `json:"world_updated"`
	Foreshadowings    int      `json:"foreshadowings"`
}

// StateUpdater 把增强分析结果写回项目：角色、世界观
type StateUpdater struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewStateUpdater(db *gorm.DB, log *zap.Logger) *StateUpdater {
	return &StateUpdater{db: db, log: logger.OrNop(log)}
}

// Apply 全部变更在一个事务内完成
func (u *StateUpdater) Apply(projectID string, chapterNumber int, enhanced *EnhancedResult, cfg model.JSONMap) (*StateChanges, error) {
	changes := &StateChanges{UpdatedCharacters: []string{}, AddedCharacters: []string{}}
	if enhanced == nil {
		return changes, nil
	}
	features := EnhancedFeatures(cfg)

	err := u.db.Transaction(func(tx *gorm.DB) error {
		projectRepo := repository.NewProjectRepository(tx)
		charRepo := repository.NewCharacterRepository(tx)

		if features[FeatureCharacterTracking] && len(enhanced.CharacterChanges) > 0 {
			updated, err := u.updateCharacters(charRepo, projectID, enhanced.CharacterChanges)
			if err != nil {
				return err
			}
			changes.UpdatedCharacters = updated
		}

		if features[FeatureNewCharacterDetection] && len(enhanced.NewCharacters) > 0 {
			added, err := u.addCharacters(charRepo, projectID, enhanced.NewCharacters)
			if err != nil {
				return err
			}
			changes.AddedCharacters = added
		}

		if features[FeatureWorldExpansion] && !enhanced.WorldExtensions.Empty() {
			updated, err := u.extendWorld(projectRepo, projectID, enhanced.WorldExtensions)
			if err != nil {
				return err
			}
			changes.WorldUpdated = updated
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if features[FeatureForeshadowing] {
		for _, f := range enhanced.Foreshadowings {
			u.log.Info("foreshadowing detected",
				zap.String("project_id", projectID),
				zap.Int("chapter", chapterNumber),
				zap.String("type", f.Type),
				zap.Float64("confidence", f.Confidence),
				zap.String("content", truncateRunes(f.Content, 50)))
		}
		changes.Foreshadowings = len(enhanced.Foreshadowings)
	}
	return changes, nil
}

func (u *StateUpdater) updateCharacters(repo *repository.CharacterRepository, projectID string, list []CharacterChange) ([]string, error) {
	chars, err := repo.ListByProject(projectID)
	if err != nil {
		return nil, err
	}

	updated := []string{}
	for _, change := range list {
		if change.Name == "" {
			continue
		}
		c := MatchCharacter(change.Name, chars)
		if c == nil {
			u.log.Warn("character not found, skipped", zap.String("name", change.Name))
			continue
		}
		if change.Changes != "" {
			if c.Abilities != "" {
				c.Abilities += "\n- " + change.Changes
			} else {
				c.Abilities = "- " + change.Changes
			}
		}
		if change.GrowthLevel != 0 {
			if c.Extra == nil {
				c.Extra = model.JSONMap{}
			}
			c.Extra["growth_level"] = change.GrowthLevel
		}
		if err := repo.Update(c); err != nil {
			return nil, err
		}
		updated = append(updated, c.Name)
	}
	return updated, nil
}

// MatchCharacter 精确匹配优先；否则按名字长度从长到短做双向包含匹配，长度差不超过 2
func MatchCharacter(name string, chars []*model.Character) *model.Character {
	for _, c := range chars {
		if c.Name == name {
			return c
		}
	}

	sorted := make([]*model.Character, len(chars))
	copy(sorted, chars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return utf8.RuneCountInString(sorted[i].Name) > utf8.RuneCountInString(sorted[j].Name)
	})

	nameLen := utf8.RuneCountInString(name)
	for _, c := range sorted {
		if c.Name == "" {
			continue
		}
		diff := utf8.RuneCountInString(c.Name) - nameLen
		if diff < 0 {
			diff = -diff
		}
		if diff > maxFuzzyNameDiff {
			continue
		}
		if strings.Contains(c.Name, name) || strings.Contains(name, c.Name) {
			return c
		}
	}
	return nil
}

func (u *StateUpdater) addCharacters(repo *repository.CharacterRepository, projectID string, list []NewCharacter) ([]string, error) {
	chars, err := repo.ListByProject(projectID)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]bool, len(chars))
	for _, c := range chars {
		existing[c.Name] = true
	}

	pos, err := repo.MaxPosition(projectID)
	if err != nil {
		return nil, err
	}

	added := []string{}
	for _, nc := range list {
		name := nc.Name
		if name == "" {
			name = "未命名角色"
		}
		if existing[name] {
			continue
		}
		if nc.Importance != "main" && nc.Importance != "supporting" {
			continue
		}
		pos++
		c := &model.Character{
			ProjectID:   projectID,
			Name:        name,
			Identity:    nc.Description,
			Personality: nc.Personality,
			Goals:       nc.Goals,
			Abilities:   nc.Abilities,
			Position:    pos,
			Extra:       model.JSONMap{"growth_level": 1},
		}
		if err := repo.Create(c); err != nil {
			return nil, err
		}
		existing[name] = true
		added = append(added, name)
		u.log.Info("character added", zap.String("project_id", projectID), zap.String("name", name), zap.String("importance", nc.Importance))
	}
	return added, nil
}

func (u *StateUpdater) extendWorld(repo *repository.ProjectRepository, projectID string, ext WorldExtensions) (bool, error) {
	project, err := repo.GetByID(projectID)
	if err != nil {
		return false, err
	}
	ws := project.WorldSetting
	if ws == nil {
		ws = model.JSONMap{}
	}

	updated := false
	lists := ext.Lists()
	for _, key := range worldKeys {
		items := lists[key]
		if len(items) == 0 {
			continue
		}
		current, _ := ws[key].([]interface{})
		seen := make(map[string]bool, len(current))
		for _, item := range current {
			seen[stringify(item)] = true
		}
		for _, item := range items {
			k := stringify(item)
			if seen[k] {
				continue
			}
			seen[k] = true
			current = append(current, item)
			updated = true
		}
		ws[key] = current
	}

	if !updated {
		return false, nil
	}
	return true, repo.UpdateWorldSetting(projectID, ws)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
