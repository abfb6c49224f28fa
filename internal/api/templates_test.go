package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"followup-templates/internal/cache"
	"followup-templates/internal/catalog"
	"followup-templates/internal/engine"
	applog "followup-templates/internal/logger"
	"followup-templates/internal/models"
	"followup-templates/internal/resolver"
	"followup-templates/internal/vertical"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
}

func setupTestServer(t *testing.T) *testServer {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Template{}, &models.Lead{}))

	log := applog.Discard()
	accessor := catalog.NewGormAccessor(db)
	c := cache.New(cache.NewMemoryStore(time.Hour, time.Hour), cache.WithLogger(log))
	e := engine.NewEngine(resolver.New(accessor, nil, log), c, log)
	t.Cleanup(func() { e.Close() })

	r := gin.New()
	r.Use(CORS())
	RegisterRoutes(r, NewTemplateHandler(e, accessor, log), NewLeadHandler(db, e, log))
	return &testServer{router: r, db: db}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestListTemplates(t *testing.T) {
	s := setupTestServer(t)
	require.NoError(t, s.db.Create(&[]models.Template{
		{ID: "a", StepKey: "day1_followup", Vertical: "finance", Content: "x", IsActive: true, Priority: 1},
		{ID: "b", StepKey: "day1_followup", Vertical: "generic", Content: "y", IsActive: true, Priority: 8},
		{ID: "c", StepKey: "day7_checkin", Vertical: "finance", Content: "z", IsActive: true, Priority: 3},
	}).Error)

	w := s.do(t, http.MethodGet, "/api/templates?step_key=day1_followup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[[]models.Template](t, w)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)

	w = s.do(t, http.MethodGet, "/api/templates?vertical=Versicherung", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Template](t, w), 2)

	w = s.do(t, http.MethodGet, "/api/templates?step_key=none", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())

	w = s.do(t, http.MethodGet, "/api/templates?channel=fax", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResolveTemplate(t *testing.T) {
	s := setupTestServer(t)
	require.NoError(t, s.db.Create(&[]models.Template{
		{ID: "p5", StepKey: "day3", Vertical: "finance", Channel: models.ChannelEmail, Content: "email", IsActive: true, Priority: 5},
		{ID: "p9", StepKey: "day3", Vertical: "finance", Content: "any", IsActive: true, Priority: 9},
	}).Error)

	w := s.do(t, http.MethodGet, "/api/templates/resolve?step_key=day3&vertical=finanzen&channel=email&tone=formal", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[resolver.Result](t, w)
	require.NotNil(t, res.Template)
	assert.Equal(t, "p5", res.Template.ID)
	assert.Equal(t, resolver.TierExact, res.Tier)
	assert.Equal(t, models.ToneFormal, res.Tone)
	assert.True(t, res.IsVerticalSpecific)

	w = s.do(t, http.MethodGet, "/api/templates/resolve?step_key=day3_reminder&vertical=mlm&cache=bypass", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[resolver.Result](t, w)
	assert.Equal(t, resolver.SourceFallback, res.Source)
	assert.Equal(t, vertical.NetworkMarketing, res.UsedVertical)
}

func TestResolveTemplate_Validation(t *testing.T) {
	s := setupTestServer(t)

	tests := []struct {
		name string
		path string
	}{
		{"missing step", "/api/templates/resolve?vertical=finance"},
		{"blank step", "/api/templates/resolve?step_key=%20%20"},
		{"bad channel", "/api/templates/resolve?step_key=day3&channel=fax"},
		{"bad tone", "/api/templates/resolve?step_key=day3&tone=angry"},
		{"bad policy", "/api/templates/resolve?step_key=day3&cache=sometimes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decode[map[string]string](t, w), "error")
		})
	}
}

func TestPersonalize(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, http.MethodPost, "/api/templates/personalize", map[string]any{
		"content": "Hi {{name}}! Bei {{company}} im Bereich {{vertical}} läuft's gut?",
		"lead":    map[string]string{"name": "Maria Huber", "company": "Huber GmbH", "vertical": "immobilien"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hi Maria! Bei Huber GmbH im Bereich Immobilien läuft's gut?", decode[map[string]string](t, w)["message"])

	w = s.do(t, http.MethodPost, "/api/templates/personalize", map[string]any{"lead": map[string]string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompose(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, http.MethodPost, "/api/templates/compose", map[string]any{
		"step_key": "meeting_reminder",
		"channel":  "email",
		"lead":     map[string]string{"name": "Jonas Weber", "company": "Weber AG"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	msg := decode[engine.Message](t, w)
	assert.Equal(t, "Hallo Jonas, ich freue mich auf unseren Termin. Bei Weber AG alles startklar?", msg.Text)
	assert.Equal(t, "Erinnerung an unseren Termin", msg.Subject)
	assert.Equal(t, resolver.TierStatic, msg.Result.Tier)

	w = s.do(t, http.MethodPost, "/api/templates/compose", map[string]any{"channel": "email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCacheEndpoints(t *testing.T) {
	s := setupTestServer(t)

	first := decode[resolver.Result](t, s.do(t, http.MethodGet, "/api/templates/resolve?step_key=after_call&vertical=finance", nil))
	assert.Equal(t, resolver.SourceFallback, first.Source)

	require.NoError(t, s.db.Create(&models.Template{StepKey: "after_call", Vertical: "finance", Content: "fresh", IsActive: true}).Error)

	cached := decode[resolver.Result](t, s.do(t, http.MethodGet, "/api/templates/resolve?step_key=after_call&vertical=finance", nil))
	assert.Equal(t, resolver.SourceFallback, cached.Source)

	w := s.do(t, http.MethodPost, "/api/templates/cache/invalidate", map[string]string{"step_key": "after_call", "vertical": "Finanzberatung"})
	require.Equal(t, http.StatusOK, w.Code)

	fresh := decode[resolver.Result](t, s.do(t, http.MethodGet, "/api/templates/resolve?step_key=after_call&vertical=finance", nil))
	assert.Equal(t, "fresh", fresh.PersonalizedMessage)

	w = s.do(t, http.MethodDelete, "/api/templates/cache", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/templates/cache/invalidate", map[string]string{"vertical": "finance"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerticalEndpoints(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, http.MethodGet, "/api/verticals/normalize?q=Immobilienmakler", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]string](t, w)
	assert.Equal(t, "real_estate", body["vertical"])
	assert.Equal(t, "Immobilien", body["label"])

	w = s.do(t, http.MethodGet, "/api/verticals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]string](t, w), len(vertical.All()))
}

func TestCORSPreflight(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(t, http.MethodOptions, "/api/templates", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
