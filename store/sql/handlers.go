package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func syncConfigurationHandlers() repository.ModelHandlers[*syncConfigurationRecord] {
	return repository.ModelHandlers[*syncConfigurationRecord]{
		NewRecord: func() *syncConfigurationRecord {
			return &syncConfigurationRecord{}
		},
		GetID: func(record *syncConfigurationRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *syncConfigurationRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *syncConfigurationRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func syncEventHandlers() repository.ModelHandlers[*syncEventRecord] {
	return repository.ModelHandlers[*syncEventRecord]{
		NewRecord: func() *syncEventRecord {
			return &syncEventRecord{}
		},
		GetID: func(record *syncEventRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *syncEventRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *syncEventRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func entityMappingHandlers() repository.ModelHandlers[*entityMappingRecord] {
	return repository.ModelHandlers[*entityMappingRecord]{
		NewRecord: func() *entityMappingRecord {
			return &entityMappingRecord{}
		},
		GetID: func(record *entityMappingRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *entityMappingRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *entityMappingRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
