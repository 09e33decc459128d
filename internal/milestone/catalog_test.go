package milestone

import (
	"errors"
	"testing"
)

func TestValidateTemplates(t *testing.T) {
	tests := []struct {
		name      string
		templates []Template
		want      error
	}{
		{"empty", nil, ErrTemplateNotFound},
		{"first not creation", []Template{{Ordinal: 1, Trigger: TriggerAdminEvent}}, ErrInvalidTemplate},
		{"duplicate ordinal", []Template{{Ordinal: 1, Trigger: TriggerProcessCreated}, {Ordinal: 1, Trigger: TriggerAdminEvent}}, ErrInvalidTemplate},
		{"negative duration", []Template{{Ordinal: 1, Trigger: TriggerProcessCreated, DurationDays: -1}}, ErrInvalidTemplate},
		{"unknown trigger", []Template{{Ordinal: 1, Trigger: TriggerProcessCreated}, {Ordinal: 2, Trigger: "whenever"}}, ErrInvalidTemplate},
		{"forward chain", []Template{
			{Ordinal: 1, Trigger: TriggerProcessCreated},
			{Ordinal: 2, Trigger: TriggerPreviousCompleted, PredecessorOrdinal: 3},
			{Ordinal: 3, Trigger: TriggerAdminEvent},
		}, ErrInvalidTemplate},
		{"valid unsorted", []Template{
			{Ordinal: 3, Trigger: TriggerPreviousCompleted, PredecessorOrdinal: 1},
			{Ordinal: 1, Trigger: TriggerProcessCreated},
			{Ordinal: 2, Trigger: TriggerPreviousCompleted},
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateTemplates("PC", tt.templates)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if err == nil && (got[0].Ordinal != 1 || got[2].Ordinal != 3) {
				t.Fatalf("templates not sorted: %+v", got)
			}
		})
	}
}

func TestParseCatalog(t *testing.T) {
	doc := []byte(`
service_types:
  PC:
    - ordinal: 1
      name: Levantamiento de perfil
      trigger: process_created
      duration_days: 5
      business_days: true
    - ordinal: 2
      name: Presentación de terna
      trigger: previous_completed
      duration_days: 10
      anticipation_days: 2
  HH:
    - ordinal: 1
      name: Kickoff
      trigger: process_created
      duration_days: 2
`)
	catalog, err := ParseCatalog(doc)
	if err != nil {
		t.Fatal(err)
	}
	pc := catalog["PC"]
	if len(pc) != 2 || pc[0].ServiceTypeCode != "PC" || !pc[0].BusinessDays || pc[1].AnticipationDays != 2 {
		t.Fatalf("unexpected PC catalog %+v", pc)
	}
	if len(catalog["HH"]) != 1 {
		t.Fatalf("unexpected HH catalog %+v", catalog["HH"])
	}

	if _, err := ParseCatalog([]byte("service_types:\n  X:\n    - ordinal: 1\n      trigger: admin_event\n")); !errors.Is(err, ErrInvalidTemplate) {
		t.Fatalf("expected invalid template, got %v", err)
	}
}
