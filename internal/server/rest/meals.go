package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/EdwinCycling/MaaltijdPlus/internal/access"
	"github.com/EdwinCycling/MaaltijdPlus/internal/limiter"
	"github.com/EdwinCycling/MaaltijdPlus/internal/live"
	"github.com/EdwinCycling/MaaltijdPlus/internal/maaltijd"
	"github.com/EdwinCycling/MaaltijdPlus/internal/services"
	"github.com/EdwinCycling/MaaltijdPlus/internal/vision"
	"github.com/EdwinCycling/MaaltijdPlus/pkg/gopool"
	"github.com/EdwinCycling/MaaltijdPlus/tools"
	"github.com/EdwinCycling/MaaltijdPlus/tools/metrics"
)

type ctxKey int

const identityKey ctxKey = 1

func identityFrom(ctx context.Context) *maaltijd.Identity {
	id, _ := ctx.Value(identityKey).(*maaltijd.Identity)
	return id
}

// Analyzer extracts a structured analysis from a meal photo.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, mime string) (*maaltijd.Analysis, error)
}

// PhotoStore persists the uploaded meal photos.
type PhotoStore interface {
	SavePhoto(ctx context.Context, mealID string, data []byte, mime string) (string, string, error)
	DeletePhoto(ctx context.Context, path string) error
}

// MealsHandler serves the meal feed and the photo analysis endpoints.
type MealsHandler struct {
	repo         maaltijd.MealRepo
	photos       PhotoStore
	analyzer     Analyzer
	hub          *live.Hub
	registry     *services.Registry
	gate         *access.Gate
	analysisLim  *limiter.Limiter
	pool         *gopool.Pool
	monthlyLimit int
	maxUpload    int64
	mlgr         *log.Logger
}

func NewMealsHandler(
	repo maaltijd.MealRepo,
	photos PhotoStore,
	analyzer Analyzer,
	hub *live.Hub,
	registry *services.Registry,
	gate *access.Gate,
	analysisLim *limiter.Limiter,
	pool *gopool.Pool,
	monthlyLimit int,
	maxUpload int64,
	mlgr *log.Logger,
) *MealsHandler {

	return &MealsHandler{
		repo:         repo,
		photos:       photos,
		analyzer:     analyzer,
		hub:          hub,
		registry:     registry,
		gate:         gate,
		analysisLim:  analysisLim,
		pool:         pool,
		monthlyLimit: monthlyLimit,
		maxUpload:    maxUpload,
		mlgr:         mlgr,
	}
}

func (mh *MealsHandler) Router() chi.Router {
	rtr := chi.NewRouter()

	rtr.Route("/", func(r chi.Router) {
		r.Use(mh.requireAuth)
		r.Post("/analyze", mh.analyze)
		r.Post("/", mh.create)
		r.Get("/", mh.feed)
		r.Get("/{id}", mh.get)
		r.Delete("/{id}", mh.remove)
	})

	return rtr
}

// requireAuth resolves the session cookie without emitting a state
// transition. A known denied identity is refused even while its
// session teardown is still under way.
func (mh *MealsHandler) requireAuth(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		c, err := r.Cookie(sessionCookie)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "sign-in required")
			return
		}

		s, ok := mh.registry.Peek(c.Value)
		if !ok {
			clearSessionCookie(w)
			respondError(w, http.StatusUnauthorized, "sign-in required")
			return
		}

		if granted, known := mh.gate.Outcome(s.Identity.UID); known && !granted {
			respondError(w, http.StatusForbidden, "access revoked")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, &s.Identity)
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

// readPhoto pulls the uploaded photo part out of the multipart form.
func (mh *MealsHandler) readPhoto(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {

	r.Body = http.MaxBytesReader(w, r.Body, mh.maxUpload)

	if err := r.ParseMultipartForm(mh.maxUpload); err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "photo too large")
		return nil, "", false
	}

	file, hdr, err := r.FormFile("photo")
	if err != nil {
		respondError(w, http.StatusBadRequest, "photo is required")
		return nil, "", false
	}
	defer file.Close()

	img, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unable to read the photo")
		return nil, "", false
	}

	return img, hdr.Header.Get("Content-Type"), true
}

// analyze runs the uploaded photo through the vision model and
// returns the structured analysis.
func (mh *MealsHandler) analyze(w http.ResponseWriter, r *http.Request) {

	ident := identityFrom(r.Context())
	ip := tools.GetIP(r)

	if d, err := mh.analysisLim.Check(r.Context(), ip); err != nil {
		mh.mlgr.Errorf("[meals-handler] analysis limiter failed for %s: %v", ip, err)
	} else if !d.Allowed {
		metrics.ChRequestDenied <- 1
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	// the monthly budget check fails open
	monthStart := time.Date(time.Now().UTC().Year(), time.Now().UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	if n, err := mh.repo.CountOwnerSince(r.Context(), ident.UID, monthStart); err != nil {
		mh.mlgr.Errorf("[meals-handler] monthly usage check failed for %s: %v", ident.UID, err)
	} else if n >= mh.monthlyLimit {
		respondError(w, http.StatusTooManyRequests, "monthly analysis budget exhausted")
		return
	}

	img, mime, ok := mh.readPhoto(w, r)
	if !ok {
		return
	}

	type result struct {
		a   *maaltijd.Analysis
		err error
	}
	resCh := make(chan result, 1)
	ctx := r.Context()

	if err := mh.pool.ScheduleTimeout(250*time.Millisecond, func() {
		a, err := mh.analyzer.Analyze(ctx, img, mime)
		resCh <- result{a, err}
	}); err != nil {
		respondError(w, http.StatusServiceUnavailable, "analysis workers are busy")
		return
	}

	res := <-resCh
	switch {
	case errors.Is(res.err, vision.ErrNotFood):
		metrics.ChAnalysisFailed <- 1
		respondError(w, http.StatusUnprocessableEntity, "not food")
	case errors.Is(res.err, vision.ErrAnalysisFailed):
		metrics.ChAnalysisFailed <- 1
		respondError(w, http.StatusUnprocessableEntity, "analysis failed")
	case res.err != nil:
		mh.mlgr.Errorf("[meals-handler] analysis failed for %s: %v", ident.UID, res.err)
		metrics.ChAnalysisFailed <- 1
		respondError(w, http.StatusBadGateway, "analysis unavailable")
	default:
		metrics.ChAnalysisOK <- 1
		respondJSON(w, http.StatusOK, res.a)
	}
}

// create stores a meal with its photo and broadcasts it on the feed.
func (mh *MealsHandler) create(w http.ResponseWriter, r *http.Request) {

	ident := identityFrom(r.Context())

	img, mime, ok := mh.readPhoto(w, r)
	if !ok {
		return
	}

	var m maaltijd.Meal
	if err := json.Unmarshal([]byte(r.FormValue("meal")), &m); err != nil {
		respondError(w, http.StatusBadRequest, "invalid meal payload")
		return
	}
	if strings.TrimSpace(m.Title) == "" {
		respondError(w, http.StatusBadRequest, "title is required")
		return
	}

	m.ID = uuid.NewString()
	m.OwnerUID = ident.UID
	m.OwnerName = ident.DisplayName
	m.CreatedAt = time.Now().UTC()

	path, url, err := mh.photos.SavePhoto(r.Context(), m.ID, img, mime)
	if err != nil {
		mh.mlgr.Errorf("[meals-handler] unable to save the photo of %s: %v", m.ID, err)
		respondError(w, http.StatusBadGateway, "unable to save the photo")
		return
	}
	m.PhotoPath = path
	m.PhotoURL = url

	if err := mh.repo.StoreMeal(r.Context(), &m); err != nil {
		mh.mlgr.Errorf("[meals-handler] unable to store meal %s: %v", m.ID, err)
		if derr := mh.photos.DeletePhoto(r.Context(), path); derr != nil {
			mh.mlgr.Warnf("[meals-handler] orphaned photo %s: %v", path, derr)
		}
		respondError(w, http.StatusBadGateway, "unable to store the meal")
		return
	}

	mh.hub.Broadcast(&m)
	metrics.ChMealStored <- 1

	respondJSON(w, http.StatusCreated, &m)
}

// feed lists the shared meals, newest first by default.
func (mh *MealsHandler) feed(w http.ResponseWriter, r *http.Request) {

	ident := identityFrom(r.Context())
	qp := r.URL.Query()

	q := maaltijd.FeedQuery{
		Search:    qp.Get("search"),
		SortBy:    qp.Get("sort"),
		Ascending: qp.Get("dir") == "asc",
	}
	if qp.Get("mine") == "true" {
		q.OwnerUID = ident.UID
	}
	if n, err := strconv.Atoi(qp.Get("limit")); err == nil && n > 0 {
		q.Limit = n
	}

	meals, err := mh.repo.Feed(r.Context(), q)
	if err != nil {
		mh.mlgr.Errorf("[meals-handler] unable to read the feed: %v", err)
		respondError(w, http.StatusBadGateway, "unable to read the feed")
		return
	}

	respondJSON(w, http.StatusOK, meals)
}

func (mh *MealsHandler) get(w http.ResponseWriter, r *http.Request) {

	id := chi.URLParam(r, "id")

	m, err := mh.repo.GetMeal(r.Context(), id)
	if errors.Is(err, maaltijd.ErrNotFound) {
		respondError(w, http.StatusNotFound, "meal not found")
		return
	}
	if err != nil {
		mh.mlgr.Errorf("[meals-handler] unable to get meal %s: %v", id, err)
		respondError(w, http.StatusBadGateway, "unable to get the meal")
		return
	}

	respondJSON(w, http.StatusOK, m)
}

// remove deletes a meal of the caller, including its stored photo.
func (mh *MealsHandler) remove(w http.ResponseWriter, r *http.Request) {

	ident := identityFrom(r.Context())
	id := chi.URLParam(r, "id")

	m, err := mh.repo.GetMeal(r.Context(), id)
	if errors.Is(err, maaltijd.ErrNotFound) {
		respondError(w, http.StatusNotFound, "meal not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusBadGateway, "unable to get the meal")
		return
	}

	if m.OwnerUID != ident.UID {
		respondError(w, http.StatusForbidden, "not your meal")
		return
	}

	if err := mh.repo.DeleteMeal(r.Context(), id); err != nil {
		mh.mlgr.Errorf("[meals-handler] unable to delete meal %s: %v", id, err)
		respondError(w, http.StatusBadGateway, "unable to delete the meal")
		return
	}

	if m.PhotoPath != "" {
		if err := mh.photos.DeletePhoto(r.Context(), m.PhotoPath); err != nil {
			mh.mlgr.Warnf("[meals-handler] unable to delete photo %s: %v", m.PhotoPath, err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
