package httputil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		expectError bool
	}{
		{
			name:        "valid JSON",
			body:        `{"name": "test"}`,
			expectError: false,
		},
		{
			name:        "invalid JSON",
			body:        `{invalid}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			err := ParseJSON(req, &dest)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "test", dest["name"])
			}
		})
	}
}

func TestParseJSONOrError(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		expectOK   bool
		expectCode int
	}{
		{
			name:     "valid JSON",
			body:     `{"name": "test"}`,
			expectOK: true,
		},
		{
			name:       "invalid JSON",
			body:       `{invalid}`,
			expectOK:   false,
			expectCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(tt.body))
			var dest map[string]string

			ok := ParseJSONOrError(w, req, &dest)

			assert.Equal(t, tt.expectOK, ok)
			if !tt.expectOK {
				assert.Equal(t, tt.expectCode, w.Code)
			}
		})
	}
}

func TestParsePathInt64(t *testing.T) {
	tests := []struct {
		name        string
		pathValue   string
		expectValue int64
		expectError bool
	}{
		{
			name:        "valid int64",
			pathValue:   "9223372036854775807",
			expectValue: 9223372036854775807,
			expectError: false,
		},
		{
			name:        "invalid int64",
			pathValue:   "abc",
			expectError: true,
		},
		{
			name:        "empty value",
			pathValue:   "",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test/"+tt.pathValue, nil)
			req = mux.SetURLVars(req, map[string]string{"id": tt.pathValue})

			val, err := ParsePathInt64(req, "id")

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expectValue, val)
			}
		})
	}
}

func TestParsePathInt64OrError(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test/123", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "123"})

	val, ok := ParsePathInt64OrError(w, req, "id")

	assert.True(t, ok)
	assert.Equal(t, int64(123), val)
}

func TestParsePathInt64OrError_Invalid(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test/abc", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "abc"})

	val, ok := ParsePathInt64OrError(w, req, "id")

	assert.False(t, ok)
	assert.Equal(t, int64(0), val)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParsePathString(t *testing.T) {
	req := httptest.NewRequest("GET", "/test/myvalue", nil)
	req = mux.SetURLVars(req, map[string]string{"slug": "myvalue"})

	val, err := ParsePathString(req, "slug")

	assert.NoError(t, err)
	assert.Equal(t, "myvalue", val)
}

func TestParsePathStringOrError_Missing(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test/", nil)
	req = mux.SetURLVars(req, map[string]string{})

	val, ok := ParsePathStringOrError(w, req, "slug")

	assert.False(t, ok)
	assert.Empty(t, val)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?limit=5", nil)

	val, err := ParseQueryInt(req, "limit", 50)

	assert.NoError(t, err)
	assert.Equal(t, 5, val)
}

func TestParseQueryInt_Default(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)

	val, err := ParseQueryInt(req, "limit", 50)

	assert.NoError(t, err)
	assert.Equal(t, 50, val)
}

func TestParseQueryInt_Invalid(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?limit=abc", nil)

	_, err := ParseQueryInt(req, "limit", 50)

	assert.Error(t, err)
}

func TestParseQueryInt64(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?org_id=42", nil)

	val, err := ParseQueryInt64(req, "org_id", 0)

	assert.NoError(t, err)
	assert.Equal(t, int64(42), val)
}

func TestParseQueryString(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?filter=active", nil)

	val := ParseQueryString(req, "filter", "all")

	assert.Equal(t, "active", val)
}

func TestParseQueryString_Default(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)

	val := ParseQueryString(req, "filter", "all")

	assert.Equal(t, "all", val)
}

func TestParseQueryBool(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?enabled=true", nil)

	val, err := ParseQueryBool(req, "enabled", false)

	assert.NoError(t, err)
	assert.True(t, val)
}

func TestParseQueryTime(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?from=2025-03-14T09:30:00Z", nil)

	val, err := ParseQueryTime(req, "from")

	assert.NoError(t, err)
	assert.NotNil(t, val)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC), val.UTC())
}

func TestParseQueryTime_Absent(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)

	val, err := ParseQueryTime(req, "from")

	assert.NoError(t, err)
	assert.Nil(t, val)
}

func TestParseQueryTime_Invalid(t *testing.T) {
	req := httptest.NewRequest("GET", "/test?from=yesterday", nil)

	val, err := ParseQueryTime(req, "from")

	assert.Error(t, err)
	assert.Nil(t, val)
}

func TestRequireNonEmpty(t *testing.T) {
	w := httptest.NewRecorder()

	ok := RequireNonEmpty(w, "", "reason")

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "reason is required")
}

func TestRequirePositive(t *testing.T) {
	w := httptest.NewRecorder()

	ok := RequirePositive(w, 0, "org_id")

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "org_id must be positive")
}

func TestValidateAll(t *testing.T) {
	w := httptest.NewRecorder()

	validators := []Validator{
		func() (bool, string) { return true, "" },
		func() (bool, string) { return false, "validation failed" },
		func() (bool, string) { return true, "" },
	}

	ok := ValidateAll(w, validators...)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation failed")
}

func TestValidateAll_Success(t *testing.T) {
	w := httptest.NewRecorder()

	validators := []Validator{
		func() (bool, string) { return true, "" },
		func() (bool, string) { return true, "" },
	}

	ok := ValidateAll(w, validators...)

	assert.True(t, ok)
}

// TestParseJSONComplexStruct tests parsing into a complex struct
func TestParseJSONComplexStruct(t *testing.T) {
	type PlanRequest struct {
		Slug          string `json:"slug"`
		Name          string `json:"name"`
		MaxSeats      int64  `json:"max_seats"`
		IncludedSeats int    `json:"included_seats"`
	}

	body := `{"slug":"pro","name":"Pro","max_seats":25,"included_seats":5}`
	req := httptest.NewRequest("POST", "/plans", bytes.NewBufferString(body))

	var plan PlanRequest
	err := ParseJSON(req, &plan)

	assert.NoError(t, err)
	assert.Equal(t, "pro", plan.Slug)
	assert.Equal(t, "Pro", plan.Name)
	assert.Equal(t, int64(25), plan.MaxSeats)
	assert.Equal(t, 5, plan.IncludedSeats)
}

// TestParseJSONEmptyBody tests parsing an empty body
func TestParseJSONEmptyBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/test", bytes.NewBufferString(""))

	var dest map[string]string
	err := ParseJSON(req, &dest)

	assert.Error(t, err)
}

// BenchmarkWriteJSON benchmarks the WriteJSON function
func BenchmarkWriteJSON(b *testing.B) {
	data := map[string]string{"message": "benchmark"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		WriteJSON(w, http.StatusOK, data)
	}
}

// BenchmarkParseJSON benchmarks the ParseJSON function
func BenchmarkParseJSON(b *testing.B) {
	body, _ := json.Marshal(map[string]string{"name": "test"})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest("POST", "/test", bytes.NewBuffer(body))
		var dest map[string]string
		ParseJSON(req, &dest)
	}
}
