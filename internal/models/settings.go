package models

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// SettingsSchemaVersion is the current settings schema. MigrateSettings
// upgrades any older persisted blob to this version before the settings
// participate in hashing or merging, so merge logic never has to guess
// field semantics.
const SettingsSchemaVersion = 2

// DisplaySettings controls how the UI renders the dataset.
type DisplaySettings struct {
	Theme            string `json:"theme"`
	Columns          int    `json:"columns"`
	ShowDescriptions bool   `json:"showDescriptions"`
}

// BehaviorSettings controls interaction behavior.
type BehaviorSettings struct {
	OpenInNewTab  bool `json:"openInNewTab"`
	ConfirmDelete bool `json:"confirmDelete"`
}

// SyncSettings are the user's synchronization preferences. They ride along
// in the synchronized payload so all devices converge on one policy.
type SyncSettings struct {
	IntervalMinutes int  `json:"intervalMinutes"`
	SyncOnOpen      bool `json:"syncOnOpen"`
}

// Settings is the synchronized settings blob, schema version 2.
type Settings struct {
	SchemaVersion int              `json:"schemaVersion"`
	Display       DisplaySettings  `json:"display"`
	Behavior      BehaviorSettings `json:"behavior"`
	Sync          SyncSettings     `json:"sync"`
}

// DefaultSettings returns the settings a fresh installation starts with.
func DefaultSettings() Settings {
	return Settings{
		SchemaVersion: SettingsSchemaVersion,
		Display: DisplaySettings{
			Theme:            "system",
			Columns:          4,
			ShowDescriptions: true,
		},
		Behavior: BehaviorSettings{
			OpenInNewTab:  true,
			ConfirmDelete: true,
		},
		Sync: SyncSettings{
			IntervalMinutes: 15,
			SyncOnOpen:      true,
		},
	}
}

// MigrateSettings decodes a persisted settings blob of any known schema
// version and upgrades it to the current version through the enumerated
// chain. An empty blob yields defaults. Unknown future versions are
// rejected rather than guessed at.
//
// Versions:
//
//	v0: flat legacy keys (theme, openInNewTab, syncIntervalMinutes, ...)
//	    with no schemaVersion field
//	v1: nested display/behavior sections, no sync section
//	v2: current
func MigrateSettings(raw []byte) (Settings, error) {
	if len(raw) == 0 {
		return DefaultSettings(), nil
	}

	if !gjson.ValidBytes(raw) {
		return Settings{}, fmt.Errorf("settings blob is not valid JSON")
	}

	version := gjson.GetBytes(raw, "schemaVersion").Int()

	switch version {
	case 0:
		return migrateV1ToV2(migrateV0ToV1(raw)), nil

	case 1:
		s, err := decodeSettings(raw)
		if err != nil {
			return Settings{}, err
		}

		return migrateV1ToV2(s), nil

	case SettingsSchemaVersion:
		return decodeSettings(raw)

	default:
		return Settings{}, fmt.Errorf("unknown settings schema version %d", version)
	}
}

func decodeSettings(raw []byte) (Settings, error) {
	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("decoding settings: %w", err)
	}

	return s, nil
}

// migrateV0ToV1 lifts the flat legacy keys into the nested v1 shape.
// Missing keys take the current defaults.
func migrateV0ToV1(raw []byte) Settings {
	s := DefaultSettings()
	s.SchemaVersion = 1

	if v := gjson.GetBytes(raw, "theme"); v.Exists() {
		s.Display.Theme = v.String()
	}

	if v := gjson.GetBytes(raw, "columns"); v.Exists() {
		s.Display.Columns = int(v.Int())
	}

	if v := gjson.GetBytes(raw, "showDescriptions"); v.Exists() {
		s.Display.ShowDescriptions = v.Bool()
	}

	if v := gjson.GetBytes(raw, "openInNewTab"); v.Exists() {
		s.Behavior.OpenInNewTab = v.Bool()
	}

	if v := gjson.GetBytes(raw, "confirmDelete"); v.Exists() {
		s.Behavior.ConfirmDelete = v.Bool()
	}

	// v0 kept the sync interval flat as well; carry it into the v2 sync
	// section when present so migrateV1ToV2 does not clobber it.
	if v := gjson.GetBytes(raw, "syncIntervalMinutes"); v.Exists() {
		s.Sync.IntervalMinutes = int(v.Int())
	}

	return s
}

// migrateV1ToV2 adds the sync section. A zero interval means the v1 blob
// (or the v0 chain before it) carried no preference, so defaults apply.
func migrateV1ToV2(s Settings) Settings {
	if s.Sync.IntervalMinutes <= 0 {
		s.Sync = DefaultSettings().Sync
	}

	s.SchemaVersion = SettingsSchemaVersion

	return s
}
