package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cineolabs/cineo-backend/internal/credits"
	"github.com/cineolabs/cineo-backend/internal/http/middleware"
	"github.com/cineolabs/cineo-backend/internal/pipeline"
	"github.com/cineolabs/cineo-backend/internal/platform/logger"
	"github.com/cineolabs/cineo-backend/internal/repos"
	"github.com/cineolabs/cineo-backend/internal/testdb"
)

const testSecret = "test-secret"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb := testdb.DB(t)
	log := logger.NewNop()

	jobRepo := repos.NewMovieJobRepo(gdb, log)
	stageRepo := repos.NewMovieStageRepo(gdb, log)
	ledger := credits.NewLedger(gdb, log)
	orc := pipeline.NewOrchestrator(gdb, jobRepo, stageRepo, ledger, nil, pipeline.DefaultPolicy(), log)

	movieHandler := NewMovieHandler(orc)
	creditsHandler := NewCreditsHandler(ledger)
	authMW := middleware.NewAuthMiddleware(log, testSecret)

	r := gin.New()
	r.GET("/healthz", Health)
	api := r.Group("/api")
	api.Use(authMW.RequireAuth())
	{
		api.POST("/movies", movieHandler.Create)
		api.GET("/movies", movieHandler.List)
		api.GET("/movies/:id", movieHandler.Get)
		api.POST("/movies/:id/cancel", movieHandler.Cancel)
		api.POST("/movies/:id/stages/:stageID/retry", movieHandler.RetryStage)
		api.GET("/credits", creditsHandler.Balance)
	}
	return r
}

func bearerToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + signed
}

func doJSON(t *testing.T, r *gin.Engine, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func createBody(title string) map[string]any {
	return map[string]any{
		"title":       title,
		"genre":       "western",
		"style":       "sepia",
		"description": "a duel at noon",
	}
}

func TestCreateMovieRequiresAuth(t *testing.T) {
	r := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/movies", "", createBody("Dust"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusUnauthorized)
	}
}

func TestCreateMovieHappyPath(t *testing.T) {
	r := newTestRouter(t)
	auth := bearerToken(t, uuid.New())

	rec := doJSON(t, r, http.MethodPost, "/api/movies", auth, createBody("Dust"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: got=%d body=%s", rec.Code, rec.Body.String())
	}
	var out struct {
		Movie struct {
			Job struct {
				ID     uuid.UUID `json:"id"`
				Status string    `json:"status"`
			} `json:"job"`
			Credits struct {
				Available int `json:"available"`
				Reserved  int `json:"reserved"`
			} `json:"credits"`
		} `json:"movie"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Movie.Job.ID == uuid.Nil {
		t.Fatal("missing job id")
	}
	if out.Movie.Credits.Reserved != 130 || out.Movie.Credits.Available != 170 {
		t.Fatalf("unexpected credits: %+v", out.Movie.Credits)
	}
}

func TestCreateMovieDuplicateKeyIs409(t *testing.T) {
	r := newTestRouter(t)
	auth := bearerToken(t, uuid.New())

	req := createBody("Dust")
	rec := doJSON(t, r, http.MethodPost, "/api/movies", auth, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first create: got=%d", rec.Code)
	}
	// Same content derives the same idempotency key.
	rec = doJSON(t, r, http.MethodPost, "/api/movies", auth, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate create: got=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestCreateMovieInsufficientCreditsIs402(t *testing.T) {
	r := newTestRouter(t)
	auth := bearerToken(t, uuid.New())

	for i := 0; i < 2; i++ {
		rec := doJSON(t, r, http.MethodPost, "/api/movies", auth, createBody(fmt.Sprintf("Movie %d", i)))
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %d: got=%d", i, rec.Code)
		}
	}
	rec := doJSON(t, r, http.MethodPost, "/api/movies", auth, createBody("One Too Many"))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusPaymentRequired)
	}
}

func TestGetMovieNotFoundAndForeignOwner(t *testing.T) {
	r := newTestRouter(t)
	owner := uuid.New()
	auth := bearerToken(t, owner)

	rec := doJSON(t, r, http.MethodPost, "/api/movies", auth, createBody("Dust"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got=%d", rec.Code)
	}
	var out struct {
		Movie struct {
			Job struct {
				ID uuid.UUID `json:"id"`
			} `json:"job"`
		} `json:"movie"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/movies/"+out.Movie.Job.ID.String(), auth, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get own movie: got=%d", rec.Code)
	}

	// Another user's token cannot see it.
	rec = doJSON(t, r, http.MethodGet, "/api/movies/"+out.Movie.Job.ID.String(), bearerToken(t, uuid.New()), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign get: got=%d want=%d", rec.Code, http.StatusNotFound)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/movies/"+uuid.NewString(), auth, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing get: got=%d want=%d", rec.Code, http.StatusNotFound)
	}
}

func TestCancelTwiceIs409(t *testing.T) {
	r := newTestRouter(t)
	auth := bearerToken(t, uuid.New())

	rec := doJSON(t, r, http.MethodPost, "/api/movies", auth, createBody("Dust"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got=%d", rec.Code)
	}
	var out struct {
		Movie struct {
			Job struct {
				ID uuid.UUID `json:"id"`
			} `json:"job"`
		} `json:"movie"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	path := "/api/movies/" + out.Movie.Job.ID.String() + "/cancel"

	rec = doJSON(t, r, http.MethodPost, path, auth, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: got=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, r, http.MethodPost, path, auth, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second cancel: got=%d want=%d", rec.Code, http.StatusConflict)
	}
}

func TestCreditsBalance(t *testing.T) {
	r := newTestRouter(t)
	auth := bearerToken(t, uuid.New())

	rec := doJSON(t, r, http.MethodGet, "/api/credits", auth, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance: got=%d", rec.Code)
	}
	var out struct {
		Credits struct {
			Available int `json:"available"`
			Reserved  int `json:"reserved"`
			Spent     int `json:"spent"`
		} `json:"credits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Credits.Available != 300 || out.Credits.Reserved != 0 || out.Credits.Spent != 0 {
		t.Fatalf("unexpected balance: %+v", out.Credits)
	}
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: got=%d", rec.Code)
	}
}
