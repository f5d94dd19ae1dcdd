package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vidproof/backend/internal/models"
	"github.com/vidproof/backend/internal/repositories"
	"github.com/vidproof/backend/internal/session"
	"github.com/vidproof/backend/internal/storage"
	"github.com/vidproof/backend/internal/tracker"
)

type outbound struct {
	chatID int64
	kind   string
	ref    string
	text   string
}

type stubMessenger struct {
	mu       sync.Mutex
	sent     []outbound
	files    map[string][]byte
	failChat map[int64]bool

	// videoDelay keeps each video send open long enough for overlapping sends to show.
	videoDelay  time.Duration
	inFlight    int
	maxInFlight int
}

func newStubMessenger() *stubMessenger {
	return &stubMessenger{files: map[string][]byte{}, failChat: map[int64]bool{}}
}

func (m *stubMessenger) SendText(_ context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failChat[chatID] {
		return errors.New("forbidden: bot was blocked by the user")
	}
	m.sent = append(m.sent, outbound{chatID: chatID, kind: "text", text: text})
	return nil
}

func (m *stubMessenger) SendVideo(_ context.Context, chatID int64, ref, caption string) error {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	delay := m.videoDelay
	m.mu.Unlock()

	time.Sleep(delay)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
	if m.failChat[chatID] {
		return errors.New("forbidden: bot was blocked by the user")
	}
	m.sent = append(m.sent, outbound{chatID: chatID, kind: "video", ref: ref, text: caption})
	return nil
}

func (m *stubMessenger) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s not found", fileID)
	}
	return data, nil
}

func (m *stubMessenger) last(t *testing.T, chatID int64) outbound {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].chatID == chatID {
			return m.sent[i]
		}
	}
	t.Fatalf("no message sent to %d", chatID)
	return outbound{}
}

func (m *stubMessenger) to(chatID int64, kind string) []outbound {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []outbound
	for _, msg := range m.sent {
		if msg.chatID == chatID && msg.kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

// failingTasks makes Complete fail so the evidence flow has to roll back.
type failingTasks struct {
	TaskStore
}

func (failingTasks) Complete(context.Context, string, string, time.Time) error {
	return errors.New("connection reset")
}

type failingEvidence struct{}

func (failingEvidence) Save(context.Context, string, io.Reader, string) (string, error) {
	return "", errors.New("bucket unavailable")
}

func (failingEvidence) Delete(context.Context, string) error { return nil }

type harness struct {
	store     *repositories.MemoryStore
	sessions  *session.MemoryStore
	evidence  *storage.MemoryStorage
	messenger *stubMessenger
	tracker   *tracker.Service
	engine    *Engine
	now       time.Time
}

func newHarness(t *testing.T, mutate ...func(*Dependencies)) *harness {
	t.Helper()
	h := &harness{
		store:     repositories.NewMemoryStore(),
		sessions:  session.NewMemoryStore(),
		evidence:  storage.NewMemoryStorage("https://cdn.example.com"),
		messenger: newStubMessenger(),
		now:       time.Date(2024, 5, 1, 15, 30, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	h.sessions.WithNowFunc(clock)

	var seq int
	h.tracker = tracker.NewService(tracker.Dependencies{
		Profiles:  h.store.Profiles(),
		Videos:    h.store.Videos(),
		Tasks:     h.store.Tasks(),
		Messenger: h.messenger,
		NowFunc:   clock,
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%03d", seq)
		},
	})

	deps := Dependencies{
		Profiles:  h.store.Profiles(),
		Tasks:     h.store.Tasks(),
		Tracker:   h.tracker,
		Sessions:  session.NewManager(h.sessions, 30*time.Minute).WithNowFunc(clock),
		Messenger: h.messenger,
		Evidence:  h.evidence,
		NowFunc:   clock,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	h.engine = NewEngine(deps)
	return h
}

func (h *harness) send(t *testing.T, u Update) {
	t.Helper()
	_ = h.engine.HandleUpdate(context.Background(), u)
}

func (h *harness) text(t *testing.T, from int64, text string) {
	t.Helper()
	h.send(t, Update{ParticipantID: from, ChatID: from, Text: text})
}

func (h *harness) register(t *testing.T, from int64, name string) models.Profile {
	t.Helper()
	profile, _, err := h.tracker.RegisterProfile(context.Background(), from, name)
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return profile
}

func (h *harness) video(t *testing.T, title string) models.Video {
	t.Helper()
	video, _, err := h.tracker.PublishVideo(context.Background(), tracker.VideoInput{Title: title, URL: "https://example.com/" + title})
	if err != nil {
		t.Fatalf("publish %s: %v", title, err)
	}
	return video
}

func (h *harness) photo(t *testing.T, from int64, fileID string, data []byte) {
	t.Helper()
	h.messenger.files[fileID] = data
	h.send(t, Update{
		ParticipantID: from,
		ChatID:        from,
		Photos: []Photo{
			{FileID: "thumb-" + fileID, Width: 90, Height: 90},
			{FileID: fileID, Width: 1280, Height: 720},
		},
	})
}

func TestStartGreetsNewAndKnownParticipants(t *testing.T) {
	h := newHarness(t)

	h.text(t, 100, "/start")
	if got := h.messenger.last(t, 100).text; got != msgWelcome {
		t.Fatalf("expected welcome, got %q", got)
	}

	h.register(t, 101, "Ana_Quispe")
	h.text(t, 101, "/start@VidProofBot")
	got := h.messenger.last(t, 101).text
	if !strings.Contains(got, `Ana\_Quispe`) || !strings.HasPrefix(got, "¡Hola de nuevo") {
		t.Fatalf("unexpected greeting %q", got)
	}
}

func TestTextRegistersUnknownParticipant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.video(t, "Induccion")

	h.text(t, 200, "Al")
	if got := h.messenger.last(t, 200).text; got != msgInvalidName {
		t.Fatalf("expected invalid name reply, got %q", got)
	}
	if _, err := h.store.Profiles().FindByTelegramID(ctx, 200); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("short name must not register, got %v", err)
	}

	h.text(t, 200, "  Luis Mamani  ")
	profile, err := h.store.Profiles().FindByTelegramID(ctx, 200)
	if err != nil {
		t.Fatalf("expected profile: %v", err)
	}
	if profile.FullName != "Luis Mamani" || !profile.Active {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if got := h.messenger.last(t, 200).text; !strings.HasPrefix(got, "¡Registro exitoso, Luis Mamani!") {
		t.Fatalf("unexpected confirmation %q", got)
	}
	if n, _ := h.store.Tasks().CountPending(ctx, profile.ID); n != 1 {
		t.Fatalf("expected one task per active video, got %d", n)
	}

	// A registered participant gets a hint instead of a second registration.
	h.text(t, 200, "Otro Nombre")
	if got := h.messenger.last(t, 200).text; !strings.Contains(got, "envía una *foto*") {
		t.Fatalf("expected photo hint, got %q", got)
	}
	all, _ := h.store.Profiles().List(ctx)
	if len(all) != 1 {
		t.Fatalf("expected a single profile, got %d", len(all))
	}
}

func TestEvidenceCompletesOldestPendingTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	profile := h.register(t, 300, "Rosa Huaman")
	first := h.video(t, "Primero")
	h.now = h.now.Add(time.Minute)
	second := h.video(t, "Segundo")

	h.photo(t, 300, "photo-1", []byte("not really a jpeg"))

	tasks, _ := h.store.Tasks().Monitor(ctx, models.TaskFilter{ProfileID: profile.ID})
	byVideo := map[string]models.TaskDetail{}
	for _, task := range tasks {
		byVideo[task.VideoID] = task
	}
	done := byVideo[first.ID]
	if done.Status != models.TaskStatusDone || done.CompletedAt == nil || !done.CompletedAt.Equal(h.now) {
		t.Fatalf("oldest task not completed: %+v", done)
	}
	wantKey := fmt.Sprintf("evidence/300/%s_%d.jpg", done.TaskID, h.now.UnixMilli())
	if done.EvidenceURL != "https://cdn.example.com/"+wantKey {
		t.Fatalf("unexpected evidence url %q", done.EvidenceURL)
	}
	obj, ok := h.evidence.Get(wantKey)
	if !ok || obj.ContentType != "image/jpeg" || string(obj.Data) != "not really a jpeg" {
		t.Fatalf("unexpected stored evidence %+v ok=%v", obj, ok)
	}
	if byVideo[second.ID].Status != models.TaskStatusPending {
		t.Fatalf("newer task must stay pending: %+v", byVideo[second.ID])
	}

	got := h.messenger.last(t, 300).text
	if !strings.Contains(got, "*Primero*") || !strings.Contains(got, "Tienes 1 tarea(s) pendiente(s).") {
		t.Fatalf("unexpected evidence reply %q", got)
	}

	h.photo(t, 300, "photo-2", []byte("second"))
	if got := h.messenger.last(t, 300).text; !strings.Contains(got, "¡Has completado todas tus tareas!") {
		t.Fatalf("expected all-done reply, got %q", got)
	}

	h.photo(t, 300, "photo-3", []byte("third"))
	if got := h.messenger.last(t, 300).text; got != msgNoPendingTasks {
		t.Fatalf("expected no pending reply, got %q", got)
	}
	if keys := h.evidence.Keys(); len(keys) != 2 {
		t.Fatalf("expected two stored images, got %v", keys)
	}
}

func TestEvidenceUsesCompressedImage(t *testing.T) {
	h := newHarness(t, func(d *Dependencies) {
		d.Compress = func(b []byte) ([]byte, error) { return []byte("small"), nil }
	})
	h.register(t, 310, "Rosa Huaman")
	h.video(t, "Uno")

	h.photo(t, 310, "p", []byte("large original"))

	keys := h.evidence.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one image, got %v", keys)
	}
	if obj, _ := h.evidence.Get(keys[0]); string(obj.Data) != "small" {
		t.Fatalf("expected compressed bytes, got %q", obj.Data)
	}
}

func TestEvidenceFallsBackToOriginalWhenCompressionFails(t *testing.T) {
	h := newHarness(t, func(d *Dependencies) {
		d.Compress = func([]byte) ([]byte, error) { return nil, errors.New("unknown format") }
	})
	h.register(t, 311, "Rosa Huaman")
	h.video(t, "Uno")

	h.photo(t, 311, "p", []byte("original"))

	keys := h.evidence.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one image, got %v", keys)
	}
	if obj, _ := h.evidence.Get(keys[0]); string(obj.Data) != "original" {
		t.Fatalf("expected original bytes, got %q", obj.Data)
	}
}

func TestEvidenceRequiresRegistration(t *testing.T) {
	h := newHarness(t)
	h.photo(t, 320, "p", []byte("x"))
	if got := h.messenger.last(t, 320).text; got != msgRegisterFirst {
		t.Fatalf("expected register-first reply, got %q", got)
	}
	if len(h.evidence.Keys()) != 0 {
		t.Fatal("nothing should be stored for unknown participants")
	}
}

func TestEvidenceDownloadFailureLeavesTaskPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	profile := h.register(t, 330, "Rosa Huaman")
	h.video(t, "Uno")

	h.send(t, Update{ParticipantID: 330, Photos: []Photo{{FileID: "missing"}}})

	if got := h.messenger.last(t, 330).text; got != msgImageFetchError {
		t.Fatalf("expected fetch error, got %q", got)
	}
	if n, _ := h.store.Tasks().CountPending(ctx, profile.ID); n != 1 {
		t.Fatalf("task must stay pending, got %d pending", n)
	}
}

func TestEvidenceStorageFailureLeavesTaskPending(t *testing.T) {
	h := newHarness(t, func(d *Dependencies) { d.Evidence = failingEvidence{} })
	ctx := context.Background()
	profile := h.register(t, 331, "Rosa Huaman")
	h.video(t, "Uno")

	h.photo(t, 331, "p", []byte("x"))

	if got := h.messenger.last(t, 331).text; got != msgImageSaveError {
		t.Fatalf("expected save error, got %q", got)
	}
	if n, _ := h.store.Tasks().CountPending(ctx, profile.ID); n != 1 {
		t.Fatalf("task must stay pending, got %d pending", n)
	}
}

func TestEvidenceRemovesImageWhenTaskUpdateFails(t *testing.T) {
	h := newHarness(t, func(d *Dependencies) { d.Tasks = failingTasks{TaskStore: d.Tasks} })
	ctx := context.Background()
	profile := h.register(t, 340, "Rosa Huaman")
	h.video(t, "Uno")

	h.photo(t, 340, "p", []byte("x"))

	if got := h.messenger.last(t, 340).text; got != msgTaskUpdateError {
		t.Fatalf("expected task update error, got %q", got)
	}
	if keys := h.evidence.Keys(); len(keys) != 0 {
		t.Fatalf("orphaned evidence left behind: %v", keys)
	}
	if n, _ := h.store.Tasks().CountPending(ctx, profile.ID); n != 1 {
		t.Fatalf("task must stay pending, got %d pending", n)
	}
}

func TestUploadFlowPublishesToEveryActiveProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, 400, "Admin Uno")
	h.register(t, 401, "Ana Quispe")
	h.register(t, 402, "Luis Mamani")
	blocked := h.register(t, 403, "Rosa Huaman")
	inactive := h.register(t, 404, "Inactiva")
	h.tracker.SetProfileActive(ctx, inactive.ID, false)
	h.messenger.failChat[403] = true
	h.messenger.videoDelay = 5 * time.Millisecond

	h.text(t, 400, "/video")
	if got := h.messenger.last(t, 400).text; got != msgUploadPrompt {
		t.Fatalf("expected upload prompt, got %q", got)
	}

	h.send(t, Update{ParticipantID: 400, Video: &VideoAttachment{FileID: "vid-1", FileSize: 5 * 1024 * 1024}})
	if got := h.messenger.last(t, 400).text; !strings.HasPrefix(got, "✅ Video recibido (5 MB)") {
		t.Fatalf("unexpected receipt %q", got)
	}
	sess, _ := h.sessions.Get(ctx, 400)
	if sess.Step != session.StepAwaitingTitle || sess.PendingVideoRef != "vid-1" {
		t.Fatalf("unexpected session %+v", sess)
	}

	h.text(t, 400, "  Charla de seguridad ")

	videos, _ := h.store.Videos().List(ctx)
	if len(videos) != 1 {
		t.Fatalf("expected one video, got %d", len(videos))
	}
	video := videos[0]
	if video.Type != models.VideoTypeTelegram || video.URL != "telegram:vid-1" || video.Title != "Charla de seguridad" {
		t.Fatalf("unexpected video %+v", video)
	}
	if video.ExpiresAt == nil || !video.ExpiresAt.Equal(h.now.Add(tracker.DefaultVideoTTL)) {
		t.Fatalf("expected 7 day expiry, got %v", video.ExpiresAt)
	}

	tasks, _ := h.store.Tasks().Monitor(ctx, models.TaskFilter{VideoID: video.ID})
	if len(tasks) != 4 {
		t.Fatalf("expected tasks for the 4 active profiles, got %d", len(tasks))
	}
	for _, task := range tasks {
		if task.ProfileID == inactive.ID {
			t.Fatal("inactive profile must not be assigned")
		}
	}

	for _, chatID := range []int64{400, 401, 402} {
		sent := h.messenger.to(chatID, "video")
		if len(sent) != 1 || sent[0].ref != "vid-1" || !strings.Contains(sent[0].text, "*Charla de seguridad*") {
			t.Fatalf("unexpected delivery to %d: %+v", chatID, sent)
		}
	}
	if got := h.messenger.to(404, "video"); len(got) != 0 {
		t.Fatalf("inactive profile received %v", got)
	}
	if h.messenger.maxInFlight != 1 {
		t.Fatalf("bot uploads must be delivered one at a time, saw %d concurrent sends", h.messenger.maxInFlight)
	}
	summary := h.messenger.last(t, 400).text
	if !strings.Contains(summary, "Enviado a: 3 usuarios") || !strings.Contains(summary, "Fallidos: 1") {
		t.Fatalf("unexpected summary %q", summary)
	}
	if blockedTasks, _ := h.store.Tasks().CountPending(ctx, blocked.ID); blockedTasks != 1 {
		t.Fatal("failed delivery must not undo the assignment")
	}
	if _, err := h.sessions.Get(ctx, 400); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("session should be cleared, got %v", err)
	}
}

func TestUploadFlowWithoutRecipients(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.text(t, 410, "/video")
	h.send(t, Update{ParticipantID: 410, Video: &VideoAttachment{FileID: "vid-2", FileSize: 1024}})
	h.text(t, 410, "Solo")

	if got := h.messenger.last(t, 410).text; got != msgNoRecipients {
		t.Fatalf("expected no recipients reply, got %q", got)
	}
	if videos, _ := h.store.Videos().List(ctx); len(videos) != 1 {
		t.Fatalf("video should still be stored, got %d", len(videos))
	}
	if _, err := h.sessions.Get(ctx, 410); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("session should be cleared, got %v", err)
	}
}

func TestVideoWithoutUploadCommandIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.send(t, Update{ParticipantID: 420, Video: &VideoAttachment{FileID: "vid-3"}})

	if got := h.messenger.last(t, 420).text; got != msgSendVideoCommandFirst {
		t.Fatalf("expected upload hint, got %q", got)
	}
	if videos, _ := h.store.Videos().List(ctx); len(videos) != 0 {
		t.Fatalf("no video should be created, got %d", len(videos))
	}
}

func TestCancelAndStartResetUploadSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.text(t, 430, "/video")
	h.text(t, 430, "/cancelar")
	if got := h.messenger.last(t, 430).text; got != msgCancelled {
		t.Fatalf("expected cancel reply, got %q", got)
	}
	if _, err := h.sessions.Get(ctx, 430); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("session should be cleared, got %v", err)
	}

	h.text(t, 430, "/video")
	h.send(t, Update{ParticipantID: 430, Video: &VideoAttachment{FileID: "vid-4"}})
	h.text(t, 430, "/start")
	if _, err := h.sessions.Get(ctx, 430); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("start should clear the session, got %v", err)
	}

	// With the session gone the next text is treated as a registration.
	h.text(t, 430, "Carla Rojas")
	if _, err := h.store.Profiles().FindByTelegramID(ctx, 430); err != nil {
		t.Fatalf("expected registration, got %v", err)
	}
	if videos, _ := h.store.Videos().List(ctx); len(videos) != 0 {
		t.Fatalf("cancelled upload must not create a video, got %d", len(videos))
	}
}

func TestUploadSessionExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, 440, "Ana Quispe")

	h.text(t, 440, "/video")
	h.send(t, Update{ParticipantID: 440, Video: &VideoAttachment{FileID: "vid-5"}})
	h.now = h.now.Add(31 * time.Minute)

	h.text(t, 440, "Titulo tardio")

	if videos, _ := h.store.Videos().List(ctx); len(videos) != 0 {
		t.Fatalf("expired session must not publish, got %d videos", len(videos))
	}
	if got := h.messenger.last(t, 440).text; !strings.Contains(got, "envía una *foto*") {
		t.Fatalf("expected the text to be handled outside the upload flow, got %q", got)
	}
}

func TestPhotoDuringUploadCountsAsEvidence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	profile := h.register(t, 450, "Ana Quispe")
	h.video(t, "Uno")

	h.text(t, 450, "/video")
	h.photo(t, 450, "p", []byte("x"))

	if n, _ := h.store.Tasks().CountPending(ctx, profile.ID); n != 0 {
		t.Fatalf("photo should complete the pending task, got %d pending", n)
	}
	sess, err := h.sessions.Get(ctx, 450)
	if err != nil || sess.Step != session.StepAwaitingVideo {
		t.Fatalf("upload session should be untouched, got %+v err=%v", sess, err)
	}
}

func TestPendingReportGroupsByParticipant(t *testing.T) {
	h := newHarness(t)
	h.text(t, 500, "/reporte")
	if got := h.messenger.last(t, 500).text; got != msgAllTasksDone {
		t.Fatalf("expected all done report, got %q", got)
	}

	h.register(t, 501, "Beto Condori")
	h.register(t, 502, "Ana_Quispe")
	h.video(t, "Uno")
	h.video(t, "Dos")

	h.text(t, 500, "/reporte")
	got := h.messenger.last(t, 500).text
	for _, want := range []string{
		"Total de tareas pendientes: 4",
		"Usuarios con pendientes: 2",
		`👤 *Ana*\_*Quispe* (2)`,
		"👤 *Beto Condori* (2)",
		"   • Uno\n   • Dos\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("report missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "Ana") > strings.Index(got, "Beto") {
		t.Fatalf("report should be ordered by name:\n%s", got)
	}
}

func TestMyTasksListsRecentTasks(t *testing.T) {
	h := newHarness(t)

	h.text(t, 600, "/mievidencia")
	if got := h.messenger.last(t, 600).text; got != msgNotRegistered {
		t.Fatalf("expected not registered reply, got %q", got)
	}

	h.register(t, 600, "Ana Quispe")
	h.text(t, 600, "/mi_evidencia")
	if got := h.messenger.last(t, 600).text; !strings.Contains(got, "No tienes tareas asignadas aún.") {
		t.Fatalf("expected empty reply, got %q", got)
	}

	h.video(t, "Uno")
	h.now = h.now.Add(time.Minute)
	h.video(t, "Dos")
	h.photo(t, 600, "p", []byte("x"))

	h.text(t, 600, "/mievidencia")
	got := h.messenger.last(t, 600).text
	for _, want := range []string{
		"⏳ *Dos* - Pendiente",
		"✅ *Uno*\n   Completado: 01/05/2024 15:31",
		"📸 [Ver evidencia](https://cdn.example.com/evidence/600/",
		"✅ Completadas: 1",
		"⏳ Pendientes: 1",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("my tasks missing %q:\n%s", want, got)
		}
	}
}

func TestMyTasksRendersDatesInConfiguredZone(t *testing.T) {
	lima := time.FixedZone("America/Lima", -5*60*60)
	h := newHarness(t, func(d *Dependencies) { d.Location = lima })
	h.register(t, 610, "Ana Quispe")
	h.video(t, "Uno")
	h.photo(t, 610, "p", []byte("x"))

	h.text(t, 610, "/mievidencia")
	if got := h.messenger.last(t, 610).text; !strings.Contains(got, "Completado: 01/05/2024 10:30") {
		t.Fatalf("expected local time, got %q", got)
	}
}

func TestUpdatesWithoutParticipantAreIgnored(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.HandleUpdate(context.Background(), Update{Text: "/start"}); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(h.messenger.sent) != 0 {
		t.Fatalf("nothing should be sent, got %v", h.messenger.sent)
	}
}

func TestConcurrentEvidenceFromOneParticipantCompletesDistinctTasks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	profile := h.register(t, 700, "Ana Quispe")
	for i := 0; i < 5; i++ {
		h.video(t, fmt.Sprintf("Video%d", i))
		h.now = h.now.Add(time.Second)
	}
	for i := 0; i < 5; i++ {
		h.messenger.files[fmt.Sprintf("p%d", i)] = []byte{byte(i)}
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = h.engine.HandleUpdate(ctx, Update{ParticipantID: 700, Photos: []Photo{{FileID: fmt.Sprintf("p%d", i)}}})
		}(i)
	}
	wg.Wait()

	if n, _ := h.store.Tasks().CountPending(ctx, profile.ID); n != 0 {
		t.Fatalf("expected every task completed, got %d pending", n)
	}
	tasks, _ := h.store.Tasks().Monitor(ctx, models.TaskFilter{ProfileID: profile.ID})
	seen := map[string]bool{}
	for _, task := range tasks {
		if seen[task.EvidenceURL] {
			t.Fatalf("evidence url reused: %s", task.EvidenceURL)
		}
		seen[task.EvidenceURL] = true
	}
}

func TestCommandParsing(t *testing.T) {
	cases := map[string]string{
		"/start":              "/start",
		"/START@VidProofBot":  "/start",
		"  /reporte ahora":    "/reporte",
		"hola /start":         "",
		"":                    "",
		"/mi_evidencia@bot x": "/mi_evidencia",
	}
	for in, want := range cases {
		if got := command(in); got != want {
			t.Fatalf("command(%q) = %q want %q", in, got, want)
		}
	}
}

func TestKnownProfileWithoutTasksGetsAssignmentsRepaired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.video(t, "Uno")
	h.video(t, "Dos")

	// A profile stored by a registration whose fan-out never ran.
	orphan := models.Profile{ID: "orphan", TelegramID: 900, FullName: "Ana Quispe", Active: true, CreatedAt: h.now, UpdatedAt: h.now}
	if err := h.store.Profiles().Create(ctx, orphan); err != nil {
		t.Fatalf("create profile: %v", err)
	}

	h.text(t, 900, "hola")
	if got := h.messenger.last(t, 900).text; !strings.Contains(got, "envía una *foto*") {
		t.Fatalf("expected photo hint, got %q", got)
	}
	if n, _ := h.store.Tasks().CountPending(ctx, orphan.ID); n != 2 {
		t.Fatalf("expected both active videos assigned, got %d", n)
	}

	h.photo(t, 900, "p", []byte("x"))
	h.text(t, 900, "/start")
	if n, _ := h.store.Tasks().CountPending(ctx, orphan.ID); n != 1 {
		t.Fatalf("repair must not recreate completed work, got %d pending", n)
	}
}
