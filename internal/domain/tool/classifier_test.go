package tool

import (
	"testing"
)

func TestClassify_Critical(t *testing.T) {
	tests := []struct {
		name   string
		toolID string
		want   RiskLevel
	}{
		{"delete operation", "file_delete", RiskLevelCritical},
		{"remove operation", "database_remove", RiskLevelCritical},
		{"drop operation", "database_drop", RiskLevelCritical},
		{"destroy operation", "destroy_resource", RiskLevelCritical},
		{"execute operation", "execute_command", RiskLevelCritical},
		{"shell operation", "shell_run", RiskLevelCritical},
		{"admin operation", "admin_reset", RiskLevelCritical},
		{"truncate operation", "truncate_table", RiskLevelCritical},
		{"mixed case", "FILE_DELETE", RiskLevelCritical},
		{"camelCase", "fileDelete", RiskLevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(Definition{ID: tt.toolID, Name: tt.toolID})
			if got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.toolID, got, tt.want)
			}
		})
	}
}

func TestClassify_High(t *testing.T) {
	tests := []struct {
		name   string
		toolID string
		want   RiskLevel
	}{
		{"write operation", "file_write", RiskLevelHigh},
		{"create operation", "create_user", RiskLevelHigh},
		{"update operation", "update_config", RiskLevelHigh},
		{"send operation", "send_email", RiskLevelHigh},
		{"upload operation", "upload_file", RiskLevelHigh},
		{"deploy operation", "deploy_app", RiskLevelHigh},
		{"connect operation", "connect_db", RiskLevelHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(Definition{ID: tt.toolID, Name: tt.toolID})
			if got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.toolID, got, tt.want)
			}
		})
	}
}

func TestClassify_Medium(t *testing.T) {
	tests := []struct {
		name   string
		toolID string
		want   RiskLevel
	}{
		{"fetch operation", "fetch_data", RiskLevelMedium},
		{"download operation", "download_file", RiskLevelMedium},
		{"export operation", "export_report", RiskLevelMedium},
		{"query operation", "query_users", RiskLevelMedium},
		{"search operation", "search_users", RiskLevelMedium},
		{"get operation", "get_status", RiskLevelMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(Definition{ID: tt.toolID, Name: tt.toolID})
			if got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.toolID, got, tt.want)
			}
		})
	}
}

func TestClassify_Low(t *testing.T) {
	tests := []struct {
		name   string
		toolID string
		want   RiskLevel
	}{
		{"list operation", "list_files", RiskLevelLow},
		{"help", "help", RiskLevelLow},
		{"version", "version", RiskLevelLow},
		{"ping", "ping", RiskLevelLow},
		{"empty name", "", RiskLevelLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(Definition{ID: tt.toolID, Name: tt.toolID})
			if got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.toolID, got, tt.want)
			}
		})
	}
}

func TestClassify_PriorityOrder(t *testing.T) {
	t.Run("delete_and_create should be CRITICAL", func(t *testing.T) {
		got := Classify(Definition{ID: "delete_and_create"})
		if got != RiskLevelCritical {
			t.Errorf("Classify(delete_and_create) = %v, want %v (CRITICAL should win over HIGH)", got, RiskLevelCritical)
		}
	})

	t.Run("create_query should be HIGH", func(t *testing.T) {
		got := Classify(Definition{ID: "create_query"})
		if got != RiskLevelHigh {
			t.Errorf("Classify(create_query) = %v, want %v (HIGH should win over MEDIUM)", got, RiskLevelHigh)
		}
	})

	t.Run("list_and_get should be MEDIUM", func(t *testing.T) {
		got := Classify(Definition{ID: "list_and_get"})
		if got != RiskLevelMedium {
			t.Errorf("Classify(list_and_get) = %v, want %v (MEDIUM should win over LOW)", got, RiskLevelMedium)
		}
	})
}

func TestClassify_NameContributes(t *testing.T) {
	// Risk patterns in the display name classify even when the id is opaque.
	got := Classify(Definition{ID: "t42", Name: "Delete Records"})
	if got != RiskLevelCritical {
		t.Errorf("Classify(t42/Delete Records) = %v, want %v", got, RiskLevelCritical)
	}
}

func TestClassifyAll_BulkClassification(t *testing.T) {
	input := []Definition{
		{ID: "file_delete"},
		{ID: "create_user"},
		{ID: "fetch_data"},
		{ID: "list_files"},
	}

	result := ClassifyAll(input)

	if len(result) != len(input) {
		t.Fatalf("ClassifyAll returned %d definitions, want %d", len(result), len(input))
	}

	expected := []RiskLevel{
		RiskLevelCritical, // file_delete
		RiskLevelHigh,     // create_user
		RiskLevelMedium,   // fetch_data
		RiskLevelLow,      // list_files
	}

	for i, want := range expected {
		if result[i].RiskLevel != want {
			t.Errorf("result[%d].RiskLevel = %v, want %v", i, result[i].RiskLevel, want)
		}
	}
}

func TestClassifyAll_PreservesInput(t *testing.T) {
	input := []Definition{
		{ID: "file_delete"},
		{ID: "list_files"},
	}

	result := ClassifyAll(input)

	if input[0].RiskLevel != "" || input[1].RiskLevel != "" {
		t.Error("ClassifyAll modified input slice")
	}
	if &result[0] == &input[0] {
		t.Error("ClassifyAll returned same slice as input")
	}
	if result[0].RiskLevel != RiskLevelCritical {
		t.Errorf("result[0].RiskLevel = %v, want %v", result[0].RiskLevel, RiskLevelCritical)
	}
}

func TestRiskLevel_IsValid(t *testing.T) {
	for _, r := range []RiskLevel{RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical} {
		if !r.IsValid() {
			t.Errorf("RiskLevel(%q).IsValid() = false, want true", r)
		}
	}
	if RiskLevel("EXTREME").IsValid() {
		t.Error("RiskLevel(\"EXTREME\").IsValid() = true, want false")
	}
}

func TestDefinition_EstimateAccessors(t *testing.T) {
	cost := 12.5
	latency := int64(800)

	with := Definition{ID: "t1", CostEstimate: &cost, LatencyEstimateMs: &latency}
	without := Definition{ID: "t2"}

	if !with.HasCost() || with.Cost() != 12.5 {
		t.Errorf("with.Cost() = %v (has=%v), want 12.5", with.Cost(), with.HasCost())
	}
	if !with.HasLatency() || with.LatencyMs() != 800 {
		t.Errorf("with.LatencyMs() = %v (has=%v), want 800", with.LatencyMs(), with.HasLatency())
	}
	if without.HasCost() || without.Cost() != 0 {
		t.Errorf("without.Cost() = %v (has=%v), want 0", without.Cost(), without.HasCost())
	}
	if without.HasLatency() || without.LatencyMs() != 0 {
		t.Errorf("without.LatencyMs() = %v (has=%v), want 0", without.LatencyMs(), without.HasLatency())
	}
}
