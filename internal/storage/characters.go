package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jwebster45206/boothill-gm/pkg/engine"
)

// Character presets (filesystem-backed, data/characters/<id>.json)

func (r *RedisStorage) GetCharacter(ctx context.Context, characterID string) (*engine.Character, error) {
	if characterID == "" || strings.ContainsAny(characterID, `/\`) || strings.Contains(characterID, "..") {
		return nil, fmt.Errorf("invalid character id %q", characterID)
	}
	path := filepath.Join(r.dataDir, "characters", characterID+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("character not found: %s", characterID)
		}
		return nil, fmt.Errorf("failed to read character file: %w", err)
	}

	var c engine.Character
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal character %s: %w", characterID, err)
	}
	if c.Inventory == nil {
		c.Inventory = []string{}
	}
	return &c, nil
}

func (r *RedisStorage) ListCharacters(ctx context.Context) ([]string, error) {
	dir := filepath.Join(r.dataDir, "characters")

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read characters directory: %w", err)
	}

	ids := []string{}
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}
