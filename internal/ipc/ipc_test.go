package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/rogers-f/taskraid/internal/clock"
	"github.com/rogers-f/taskraid/internal/domain"
	"github.com/rogers-f/taskraid/internal/duel"
	"github.com/rogers-f/taskraid/internal/evidence"
	"github.com/rogers-f/taskraid/internal/guard"
	"github.com/rogers-f/taskraid/internal/judge"
	"github.com/rogers-f/taskraid/internal/notify"
	"github.com/rogers-f/taskraid/internal/progression"
	"github.com/rogers-f/taskraid/internal/quest"
	"github.com/rogers-f/taskraid/internal/raid"
	"github.com/rogers-f/taskraid/internal/reward"
	"github.com/rogers-f/taskraid/internal/store"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type testEnv struct {
	h     *Handler
	mux   http.Handler
	judge *judge.Static
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.NewDB(dbPath)
	if err != nil {
		t.Fatalf("create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	g := guard.NewGuard(clk, guard.GuardConfig{RateLimitPerMinute: 1000})
	broker := notify.NewLocal()
	rewards := reward.NewEngine(db, progression.NewCalculator(progression.DefaultBalance()), clk)
	raids := raid.NewEngine(rewards, g, broker, nil)
	raids.Roll = func() float64 { return 0.99 }
	j := judge.Approve()
	ev := evidence.NewStoreFs(afero.NewMemMapFs())

	h := &Handler{
		Quest:        quest.NewService(rewards, raids, broker, nil),
		Raids:        raids,
		Duels:        duel.NewEngine(rewards, raids, j, ev, g, broker, nil),
		Evidence:     ev,
		Broker:       broker,
		PollInterval: 20 * time.Millisecond,
	}
	return &testEnv{h: h, mux: Routes(h), judge: j}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
}

func (e *testEnv) player(t *testing.T, name string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/players", `{"name":"`+name+`"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create player: %d %s", w.Code, w.Body.String())
	}
	var p domain.Player
	decodeInto(t, w, &p)
	return p.ID
}

func (e *testEnv) task(t *testing.T, owner, difficulty string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/tasks", `{"owner_id":"`+owner+`","title":"Stretch","difficulty":"`+difficulty+`"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create task: %d %s", w.Code, w.Body.String())
	}
	var task domain.Task
	decodeInto(t, w, &task)
	return task.ID
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/api/v1/health", "")
	expectStatus(t, w, http.StatusOK)
}

func TestCreatePlayer_InvalidBody(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodPost, "/api/v1/players", "not json")
	expectStatus(t, w, http.StatusBadRequest)
}

func TestCreatePlayer_InvalidClass(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodPost, "/api/v1/players", `{"name":"a","class":"bard"}`)
	expectStatus(t, w, http.StatusUnprocessableEntity)

	var apiErr APIError
	decodeInto(t, w, &apiErr)
	if apiErr.Code != domain.ErrInvalidClass.Code {
		t.Errorf("expected code %d, got %d", domain.ErrInvalidClass.Code, apiErr.Code)
	}
}

func TestGetPlayer_NotFound(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/api/v1/players/ghost", "")
	expectStatus(t, w, http.StatusNotFound)
}

func TestCompleteTask_RewardsThenConflict(t *testing.T) {
	e := newTestEnv(t)
	p := e.player(t, "ada")
	id := e.task(t, p, "medium")

	w := e.do(t, http.MethodPost, "/api/v1/tasks/"+id+"/complete", "")
	expectStatus(t, w, http.StatusOK)
	var res quest.Completion
	decodeInto(t, w, &res)
	if res.Reward.XP != 15 || res.Reward.Gold != 10 {
		t.Errorf("unexpected reward %+v", res.Reward)
	}

	w = e.do(t, http.MethodPost, "/api/v1/tasks/"+id+"/complete", "")
	expectStatus(t, w, http.StatusConflict)

	w = e.do(t, http.MethodGet, "/api/v1/players/"+p+"/ledger", "")
	expectStatus(t, w, http.StatusOK)
	var ledger []domain.RewardDelta
	decodeInto(t, w, &ledger)
	if len(ledger) != 1 {
		t.Errorf("expected 1 ledger entry, got %d", len(ledger))
	}
}

func TestFailTask(t *testing.T) {
	e := newTestEnv(t)
	p := e.player(t, "ada")
	id := e.task(t, p, "hard")

	w := e.do(t, http.MethodPost, "/api/v1/tasks/"+id+"/fail", "")
	expectStatus(t, w, http.StatusOK)
	var res FailResponse
	decodeInto(t, w, &res)
	if res.Task.Status != domain.TaskFailed {
		t.Errorf("expected failed, got %s", res.Task.Status)
	}
	if res.HPLost != 4 {
		t.Errorf("expected 4 HP lost, got %d", res.HPLost)
	}
}

func TestRaidLifecycle(t *testing.T) {
	e := newTestEnv(t)
	leader := e.player(t, "ada")
	other := e.player(t, "bo")

	w := e.do(t, http.MethodPost, "/api/v1/raids", `{"leader_id":"`+leader+`","boss_name":"Sloth","boss_max_hp":300,"boss_damage":5}`)
	expectStatus(t, w, http.StatusCreated)
	var rd domain.Raid
	decodeInto(t, w, &rd)

	w = e.do(t, http.MethodPost, "/api/v1/raids/"+rd.ID+"/join", `{}`)
	expectStatus(t, w, http.StatusBadRequest)
	w = e.do(t, http.MethodPost, "/api/v1/raids/"+rd.ID+"/join", `{"player_id":"`+other+`"}`)
	expectStatus(t, w, http.StatusNoContent)
	w = e.do(t, http.MethodPost, "/api/v1/raids/"+rd.ID+"/join", `{"player_id":"`+other+`"}`)
	expectStatus(t, w, http.StatusConflict)

	w = e.do(t, http.MethodGet, "/api/v1/raids/"+rd.ID+"/members", "")
	expectStatus(t, w, http.StatusOK)
	var members []domain.RaidMember
	decodeInto(t, w, &members)
	if len(members) != 2 {
		t.Errorf("expected 2 members, got %d", len(members))
	}

	task := e.task(t, other, "hard")
	w = e.do(t, http.MethodPost, "/api/v1/tasks/"+task+"/complete", "")
	expectStatus(t, w, http.StatusOK)

	w = e.do(t, http.MethodGet, "/api/v1/raids/"+rd.ID, "")
	expectStatus(t, w, http.StatusOK)
	decodeInto(t, w, &rd)
	if rd.BossCurrentHP != 249 {
		t.Errorf("expected boss HP 249, got %d", rd.BossCurrentHP)
	}

	w = e.do(t, http.MethodGet, "/api/v1/raids/"+rd.ID+"/events?since_seq=1", "")
	expectStatus(t, w, http.StatusOK)
	var events []domain.GameEvent
	decodeInto(t, w, &events)
	found := false
	for _, ev := range events {
		if ev.EventType == "boss_damaged" {
			found = true
		}
		if ev.SeqNo <= 1 {
			t.Errorf("event %d is not after since_seq", ev.SeqNo)
		}
	}
	if !found {
		t.Error("expected a boss_damaged event")
	}

	w = e.do(t, http.MethodPost, "/api/v1/raids/"+rd.ID+"/leave", `{"player_id":"`+other+`"}`)
	expectStatus(t, w, http.StatusOK)
	var applied reward.Applied
	decodeInto(t, w, &applied)
	if applied.HP != -10 {
		t.Errorf("expected desertion HP -10, got %d", applied.HP)
	}

	w = e.do(t, http.MethodGet, "/api/v1/raids/missing/events", "")
	expectStatus(t, w, http.StatusNotFound)
}

func TestStreamRaidEvents_SSE(t *testing.T) {
	e := newTestEnv(t)
	leader := e.player(t, "ada")
	rd, err := e.h.Raids.Start(context.Background(), raid.StartInput{LeaderID: leader, BossName: "Sloth", BossMaxHP: 100})
	if err != nil {
		t.Fatalf("start raid: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/raids/"+rd.ID+"/events/stream", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.mux.ServeHTTP(w, req)
	}()
	<-done

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %s", ct)
	}
	if !strings.Contains(w.Body.String(), "event: raid_started") {
		t.Errorf("expected raid_started in stream, got %q", w.Body.String())
	}
}

// activeDuel drives a duel between two new players to active and returns
// the duel ID, the challenger ID and the challenger's selection IDs.
func activeDuel(t *testing.T, e *testEnv) (string, string, []string) {
	t.Helper()
	a := e.player(t, "ada")
	b := e.player(t, "bo")

	w := e.do(t, http.MethodPost, "/api/v1/duels", `{"challenger_id":"`+a+`","challenged_id":"`+b+`"}`)
	expectStatus(t, w, http.StatusCreated)
	var d domain.Duel
	decodeInto(t, w, &d)

	w = e.do(t, http.MethodPost, "/api/v1/duels/"+d.ID+"/accept", `{"player_id":"`+a+`"}`)
	expectStatus(t, w, http.StatusForbidden)
	w = e.do(t, http.MethodPost, "/api/v1/duels/"+d.ID+"/accept", `{"player_id":"`+b+`"}`)
	expectStatus(t, w, http.StatusOK)

	var aSel []string
	for _, p := range []string{a, b} {
		for i := 0; i < 5; i++ {
			task := e.task(t, p, "medium")
			w = e.do(t, http.MethodPost, "/api/v1/duels/"+d.ID+"/selections", `{"player_id":"`+p+`","task_id":"`+task+`"}`)
			expectStatus(t, w, http.StatusCreated)
			var sel domain.DuelSelection
			decodeInto(t, w, &sel)
			if p == a {
				aSel = append(aSel, sel.ID)
			}
		}
		w = e.do(t, http.MethodPost, "/api/v1/duels/"+d.ID+"/lock", `{"player_id":"`+p+`"}`)
		expectStatus(t, w, http.StatusOK)
	}
	decodeInto(t, w, &d)
	if d.Status != domain.DuelActive {
		t.Fatalf("expected active duel, got %s", d.Status)
	}
	return d.ID, a, aSel
}

func (e *testEnv) upload(t *testing.T, duelID, selectionID, playerID string, image []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("player_id", playerID); err != nil {
		t.Fatalf("write field: %v", err)
	}
	fw, err := mw.CreateFormFile("image", "proof.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(image)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/duels/"+duelID+"/selections/"+selectionID+"/evidence", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func TestDuelEvidence_AcceptedAndServed(t *testing.T) {
	e := newTestEnv(t)
	duelID, a, aSel := activeDuel(t, e)

	w := e.upload(t, duelID, aSel[0], a, pngHeader)
	expectStatus(t, w, http.StatusOK)
	var res duel.Result
	decodeInto(t, w, &res)
	if res.Damage != 15 || res.OpponentHP != 85 {
		t.Errorf("expected 15 damage and 85 HP, got %d and %d", res.Damage, res.OpponentHP)
	}

	w = e.do(t, http.MethodGet, "/api/v1/evidence/"+res.Selection.EvidenceURL, "")
	expectStatus(t, w, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), pngHeader) {
		t.Error("served evidence does not match the upload")
	}

	w = e.do(t, http.MethodGet, "/api/v1/evidence/"+duelID+"/missing.png", "")
	expectStatus(t, w, http.StatusNotFound)

	w = e.upload(t, duelID, aSel[0], a, pngHeader)
	expectStatus(t, w, http.StatusConflict)
}

func TestDuelEvidence_Rejected(t *testing.T) {
	e := newTestEnv(t)
	duelID, a, aSel := activeDuel(t, e)
	e.judge.Verdict = judge.Verdict{Approved: false, Reason: "blurry"}

	w := e.upload(t, duelID, aSel[0], a, pngHeader)
	expectStatus(t, w, http.StatusUnprocessableEntity)
	var apiErr APIError
	decodeInto(t, w, &apiErr)
	if apiErr.Code != domain.ErrEvidenceRejected.Code || !strings.Contains(apiErr.Message, "blurry") {
		t.Errorf("unexpected error %+v", apiErr)
	}

	w = e.do(t, http.MethodGet, "/api/v1/duels/"+duelID+"/selections/"+aSel[0]+"/audit", "")
	expectStatus(t, w, http.StatusOK)
	var recs []domain.AuditRecord
	decodeInto(t, w, &recs)
	if len(recs) != 1 || recs[0].Action != "rejected" {
		t.Errorf("expected one rejected audit record, got %+v", recs)
	}
}

func TestDuelEvidence_MissingImage(t *testing.T) {
	e := newTestEnv(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("player_id", "p")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/duels/d/selections/s/evidence", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestDuelHistoryAndSnapshot(t *testing.T) {
	e := newTestEnv(t)
	duelID, _, _ := activeDuel(t, e)

	w := e.do(t, http.MethodGet, "/api/v1/duels/"+duelID+"/events", "")
	expectStatus(t, w, http.StatusOK)
	var events []domain.GameEvent
	decodeInto(t, w, &events)
	if len(events) == 0 || events[len(events)-1].EventType != "duel_started" {
		t.Errorf("expected log to end with duel_started, got %d events", len(events))
	}

	w = e.do(t, http.MethodGet, "/api/v1/duels/"+duelID+"/snapshots/active", "")
	expectStatus(t, w, http.StatusOK)
	w = e.do(t, http.MethodGet, "/api/v1/duels/"+duelID+"/snapshots/completed", "")
	expectStatus(t, w, http.StatusNotFound)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  *domain.EngineError
		want int
	}{
		{domain.ErrDuelNotFound, http.StatusNotFound},
		{domain.ErrSelectionFull, http.StatusUnprocessableEntity},
		{domain.ErrDuelClosed, http.StatusConflict},
		{domain.ErrOptimisticLock, http.StatusConflict},
		{domain.ErrRateLimitExceeded, http.StatusTooManyRequests},
		{domain.ErrJudgeUnavailable, http.StatusServiceUnavailable},
		{domain.ErrStoreWrite, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err.Code); got != tt.want {
			t.Errorf("statusFor(%s) = %d, want %d", tt.err.Message, got, tt.want)
		}
	}
}

func TestCORSHeaders(t *testing.T) {
	e := newTestEnv(t)
	srv := NewServer(e.h, ":0")

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/raids/r1", nil)
	w := httptest.NewRecorder()

	srv.httpServer.Handler.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS origin *")
	}
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", w.Code)
	}
}

func TestFormatListenURL(t *testing.T) {
	tests := map[string]string{
		":9800":          "http://localhost:9800",
		"0.0.0.0:80":     "http://localhost:80",
		"127.0.0.1:9800": "http://127.0.0.1:9800",
		"example.com":    "http://example.com",
	}
	for addr, want := range tests {
		if got := FormatListenURL(addr); got != want {
			t.Errorf("FormatListenURL(%q) = %q, want %q", addr, got, want)
		}
	}
}
