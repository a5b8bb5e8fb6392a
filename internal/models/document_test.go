package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xhad/danfe/internal/models"
)

func TestParseRemoteStatus(t *testing.T) {
	tests := []struct {
		raw  string
		kind models.RemoteStatusKind
		want string
	}{
		{"OK", models.RemoteReady, "OK"},
		{" OK ", models.RemoteReady, "OK"},
		{"WAITING", models.RemoteNotReady, "WAITING"},
		{"ok", models.RemoteNotReady, "ok"},
		{"ERRO_JSON", models.RemoteErrorCode, "ERRO_JSON"},
		{"ERROR", models.RemoteErrorCode, "ERROR"},
		{"?", models.RemoteErrorCode, "?"},
		{"", models.RemoteErrorCode, "?"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			s := models.ParseRemoteStatus(tt.raw)
			assert.Equal(t, tt.kind, s.Kind)
			assert.Equal(t, tt.want, s.String())
		})
	}
}

func TestBatchResultCounters(t *testing.T) {
	result := models.BatchResult{
		Outcomes: []models.Outcome{
			{Status: models.StatusReady, Primary: []byte("<xml/>"), Secondary: []byte("%PDF")},
			{Status: models.StatusReady, Secondary: []byte("%PDF")},
			{Status: models.StatusTimedOut},
		},
	}

	assert.Equal(t, 2, result.Count(models.StatusReady))
	assert.Equal(t, 1, result.Count(models.StatusTimedOut))
	assert.Equal(t, 0, result.Count(models.StatusFetchFailed))
	assert.Equal(t, 3, result.ArtifactCount())
}

func TestArtifactExtension(t *testing.T) {
	assert.Equal(t, ".xml", models.ArtifactPrimary.Extension())
	assert.Equal(t, ".pdf", models.ArtifactSecondary.Extension())
}
