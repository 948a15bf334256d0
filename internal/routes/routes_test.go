package routes_test

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "mime/multipart"
    "net/http"
    "net/http/httptest"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/gin-gonic/gin"
    "github.com/gorilla/websocket"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "gorm.io/gorm"

    "github.com/zaqqye/exam_guard/internal/capture"
    "github.com/zaqqye/exam_guard/internal/config"
    "github.com/zaqqye/exam_guard/internal/database"
    "github.com/zaqqye/exam_guard/internal/logging"
    "github.com/zaqqye/exam_guard/internal/models"
    "github.com/zaqqye/exam_guard/internal/routes"
    "github.com/zaqqye/exam_guard/internal/session"
    "github.com/zaqqye/exam_guard/internal/utils"
    "github.com/zaqqye/exam_guard/internal/ws"
)

const password = "secret123"

type testEnv struct {
    t     *testing.T
    db    *gorm.DB
    store session.Store
    srv   *httptest.Server
}

func newEnv(t *testing.T, opts ...func(*routes.Deps)) *testEnv {
    t.Helper()
    gin.SetMode(gin.TestMode)

    db, err := database.ConnectSQLite(strings.ReplaceAll(t.Name(), "/", "_"))
    require.NoError(t, err)
    require.NoError(t, database.Migrate(db))

    cfg := config.Load()
    cfg.JWTSecret = "test-secret"
    cfg.CaptureMaxBytes = 1 << 20

    log := logging.Discard()
    store := session.NewGormStore(db)
    hubs := ws.NewHubs(log)
    ctx, cancel := context.WithCancel(context.Background())
    go hubs.Run(ctx)
    t.Cleanup(cancel)

    objects, err := capture.OpenBoltStore(filepath.Join(t.TempDir(), "captures.db"))
    require.NoError(t, err)
    t.Cleanup(func() { objects.Close() })

    deps := routes.Deps{
        DB:       db,
        Cfg:      cfg,
        Sessions: store,
        Binder:   &session.Binder{DB: db, Store: store, Notifier: hubs.Student, Log: log},
        Hubs:     hubs,
        Captures: &capture.Service{DB: db, Objects: objects},
        Log:      log,
    }
    for _, opt := range opts {
        opt(&deps)
    }
    r := gin.New()
    routes.Register(r, deps)
    srv := httptest.NewServer(r)
    t.Cleanup(srv.Close)
    return &testEnv{t: t, db: db, store: store, srv: srv}
}

func (e *testEnv) user(role, email string) *models.User {
    e.t.Helper()
    hashed, err := utils.HashPassword(password)
    require.NoError(e.t, err)
    u := &models.User{UserID: "u-" + email, FullName: email, Email: email, Password: hashed, Role: role, Active: true}
    require.NoError(e.t, e.db.Create(u).Error)
    return u
}

func (e *testEnv) reload(u *models.User) *models.User {
    e.t.Helper()
    var out models.User
    require.NoError(e.t, e.db.First(&out, u.ID).Error)
    return &out
}

type loginResult struct {
    Token     string `json:"access_token"`
    SessionID string `json:"session_id"`
}

func (e *testEnv) login(email string) loginResult {
    e.t.Helper()
    res, body := e.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": email, "password": password})
    require.Equal(e.t, http.StatusOK, res.StatusCode, string(body))
    var out loginResult
    require.NoError(e.t, json.Unmarshal(body, &out))
    require.NotEmpty(e.t, out.Token)
    return out
}

func (e *testEnv) do(method, path, token string, payload any) (*http.Response, []byte) {
    e.t.Helper()
    var body io.Reader
    if payload != nil {
        data, err := json.Marshal(payload)
        require.NoError(e.t, err)
        body = bytes.NewReader(data)
    }
    req, err := http.NewRequest(method, e.srv.URL+path, body)
    require.NoError(e.t, err)
    if payload != nil {
        req.Header.Set("Content-Type", "application/json")
    }
    req.Header.Set("Accept", "application/json")
    if token != "" {
        req.Header.Set("Authorization", "Bearer "+token)
    }
    return e.send(req)
}

func (e *testEnv) send(req *http.Request) (*http.Response, []byte) {
    e.t.Helper()
    client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
    res, err := client.Do(req)
    require.NoError(e.t, err)
    defer res.Body.Close()
    data, err := io.ReadAll(res.Body)
    require.NoError(e.t, err)
    return res, data
}

func (e *testEnv) exam(teacherToken string) string {
    e.t.Helper()
    res, body := e.do(http.MethodPost, "/api/v1/exams", teacherToken, gin.H{"title": "Algebra", "duration_minutes": 60})
    require.Equal(e.t, http.StatusCreated, res.StatusCode, string(body))
    var out struct {
        ExamID string `json:"exam_id"`
    }
    require.NoError(e.t, json.Unmarshal(body, &out))
    return out.ExamID
}

func decode(t *testing.T, body []byte) map[string]any {
    t.Helper()
    var out map[string]any
    require.NoError(t, json.Unmarshal(body, &out), string(body))
    return out
}

func (e *testEnv) dialWS(path, token string) *websocket.Conn {
    e.t.Helper()
    url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
    conn, res, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer " + token}})
    if res != nil {
        res.Body.Close()
    }
    require.NoError(e.t, err)
    e.t.Cleanup(func() { conn.Close() })
    var hello map[string]any
    readWS(e.t, conn, &hello)
    require.Equal(e.t, "connected", hello["type"])
    return conn
}

func readWS(t *testing.T, conn *websocket.Conn, v any) {
    t.Helper()
    require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
    _, data, err := conn.ReadMessage()
    require.NoError(t, err)
    require.NoError(t, json.Unmarshal(data, v))
}

func TestSecondLoginSupersedesFirstSession(t *testing.T) {
    env := newEnv(t)
    env.user(models.RoleTeacher, "t@example.com")
    examID := env.exam(env.login("t@example.com").Token)
    student := env.user(models.RoleStudent, "s@example.com")

    deviceA := env.login("s@example.com")
    res, _ := env.do(http.MethodGet, "/dashboard/test/"+examID, deviceA.Token, nil)
    require.Equal(t, http.StatusOK, res.StatusCode)

    deviceB := env.login("s@example.com")
    stored := env.reload(student)
    require.NotNil(t, stored.CurrentSessionID)
    assert.Equal(t, deviceB.SessionID, *stored.CurrentSessionID)

    _, err := env.store.Get(context.Background(), deviceA.SessionID)
    assert.ErrorIs(t, err, session.ErrNotFound)

    res, body := env.do(http.MethodGet, "/dashboard/test/"+examID, deviceA.Token, nil)
    assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
    out := decode(t, body)
    assert.Equal(t, false, out["valid"])
    assert.Equal(t, "session_mismatch", out["reason"])
    assert.Equal(t, "/authenticate/login", out["redirect"])

    res, _ = env.do(http.MethodGet, "/dashboard/test/"+examID, deviceB.Token, nil)
    assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestSupersededBrowserIsRedirectedWithFlash(t *testing.T) {
    env := newEnv(t)
    env.user(models.RoleStudent, "s@example.com")
    deviceA := env.login("s@example.com")
    env.login("s@example.com")

    req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/dashboard/test/any", nil)
    require.NoError(t, err)
    req.Header.Set("Accept", "text/html")
    req.AddCookie(&http.Cookie{Name: "exam_session", Value: deviceA.Token})
    res, _ := env.send(req)

    assert.Equal(t, http.StatusFound, res.StatusCode)
    assert.Equal(t, "/authenticate/login", res.Header.Get("Location"))
    var flash *http.Cookie
    for _, c := range res.Cookies() {
        if c.Name == "exam_flash" {
            flash = c
        }
    }
    require.NotNil(t, flash)

    // The login page hands the message out once.
    req, err = http.NewRequest(http.MethodGet, env.srv.URL+"/authenticate/login", nil)
    require.NoError(t, err)
    req.AddCookie(flash)
    res, body := env.send(req)
    require.Equal(t, http.StatusOK, res.StatusCode)
    assert.Contains(t, decode(t, body)["flash"], "logged in from another device")
}

func TestCheckSessionVerdicts(t *testing.T) {
    env := newEnv(t)
    student := env.user(models.RoleStudent, "s@example.com")

    res, body := env.do(http.MethodGet, "/api/check-session", "", nil)
    require.Equal(t, http.StatusOK, res.StatusCode)
    assert.Equal(t, map[string]any{"valid": false, "reason": "not_authenticated"}, decode(t, body))

    first := env.login("s@example.com")
    res, body = env.do(http.MethodGet, "/api/check-session", first.Token, nil)
    require.Equal(t, http.StatusOK, res.StatusCode)
    assert.Equal(t, map[string]any{"valid": true}, decode(t, body))

    env.login("s@example.com")
    res, body = env.do(http.MethodGet, "/api/check-session", first.Token, nil)
    assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
    assert.Equal(t, "session_mismatch", decode(t, body)["reason"])

    third := env.login("s@example.com")
    require.NoError(t, env.db.Delete(&models.User{}, student.ID).Error)
    res, body = env.do(http.MethodGet, "/api/check-session", third.Token, nil)
    assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
    assert.Equal(t, "user_not_found", decode(t, body)["reason"])
}

func TestTeachersNeverBindSessions(t *testing.T) {
    env := newEnv(t)
    teacher := env.user(models.RoleTeacher, "t@example.com")

    one := env.login("t@example.com")
    two := env.login("t@example.com")
    assert.Nil(t, env.reload(teacher).CurrentSessionID)

    for _, tok := range []string{one.Token, two.Token} {
        res, body := env.do(http.MethodGet, "/api/check-session", tok, nil)
        require.Equal(t, http.StatusOK, res.StatusCode)
        assert.Equal(t, true, decode(t, body)["valid"])
    }
}

func TestLogoutClearsOnlyOwnBinding(t *testing.T) {
    env := newEnv(t)
    student := env.user(models.RoleStudent, "s@example.com")
    old := env.login("s@example.com")
    current := env.login("s@example.com")

    res, _ := env.do(http.MethodPost, "/logout", old.Token, nil)
    require.Equal(t, http.StatusOK, res.StatusCode)
    stored := env.reload(student)
    require.NotNil(t, stored.CurrentSessionID)
    assert.Equal(t, current.SessionID, *stored.CurrentSessionID)

    res, _ = env.do(http.MethodPost, "/api/v1/auth/logout", current.Token, nil)
    require.Equal(t, http.StatusOK, res.StatusCode)
    assert.Nil(t, env.reload(student).CurrentSessionID)

    _, err := env.store.Get(context.Background(), current.SessionID)
    assert.ErrorIs(t, err, session.ErrNotFound)
    res, body := env.do(http.MethodGet, "/api/check-session", current.Token, nil)
    require.Equal(t, http.StatusOK, res.StatusCode)
    assert.Equal(t, "not_authenticated", decode(t, body)["reason"])
}

func TestUpdateIntegrity(t *testing.T) {
    env := newEnv(t)
    env.user(models.RoleStudent, "s@example.com")
    env.user(models.RoleStudent, "other@example.com")
    tok := env.login("s@example.com").Token

    for _, ev := range []string{"bogus", "pageRefresh", ""} {
        res, _ := env.do(http.MethodPost, "/update-integrity", tok, gin.H{"examId": "exam-1", "eventType": ev})
        assert.Equal(t, http.StatusBadRequest, res.StatusCode, ev)
    }
    var count int64
    require.NoError(t, env.db.Model(&models.IntegrityRecord{}).Count(&count).Error)
    assert.Zero(t, count)

    res, body := env.do(http.MethodPost, "/update-integrity", tok, gin.H{"examId": 42, "userId": "u-s@example.com", "eventType": "mouseOuts"})
    require.Equal(t, http.StatusOK, res.StatusCode, string(body))

    var rec models.IntegrityRecord
    require.NoError(t, env.db.Where("exam_id = ? AND user_id = ?", "42", "u-s@example.com").First(&rec).Error)
    assert.Equal(t, 1, rec.MouseOuts)
    assert.Zero(t, rec.TabChanges)
    assert.Equal(t, "mouseOuts", rec.LastEvent)

    res, _ = env.do(http.MethodPost, "/update-integrity", tok, gin.H{"examId": "42", "userId": "u-other@example.com", "eventType": "tabChanges"})
    assert.Equal(t, http.StatusForbidden, res.StatusCode)

    res, _ = env.do(http.MethodPost, "/update-integrity", "", gin.H{"examId": "42", "eventType": "tabChanges"})
    assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestSeeActiveHistoryAndResubmit(t *testing.T) {
    env := newEnv(t)
    env.user(models.RoleTeacher, "t@example.com")
    teacherTok := env.login("t@example.com").Token
    examID := env.exam(teacherTok)
    env.user(models.RoleStudent, "s@example.com")
    tok := env.login("s@example.com").Token

    start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
    ping := func(at time.Time, status string) {
        t.Helper()
        res, body := env.do(http.MethodPost, "/dashboard/see-active", tok, gin.H{"examId": examID, "timestamp": at, "status": status})
        require.Equal(t, http.StatusOK, res.StatusCode, string(body))
    }
    ping(start, "active")
    ping(start.Add(20*time.Second), "active")   // steady, within 30s: no history row
    ping(start.Add(25*time.Second), "inactive") // status change
    ping(start.Add(60*time.Second), "inactive") // gap over 30s

    var tracker models.ActivityTracker
    require.NoError(t, env.db.Where("exam_id = ?", examID).First(&tracker).Error)
    var history int64
    require.NoError(t, env.db.Model(&models.ActivityPing{}).Where("tracker_id = ?", tracker.ID).Count(&history).Error)
    assert.EqualValues(t, 3, history)
    assert.True(t, tracker.StartedAt.Equal(start))

    res, body := env.do(http.MethodPost, "/dashboard/test/"+examID+"/submit", tok, gin.H{"reason": "normal", "answers": gin.H{"mcq": gin.H{"1": "b"}}})
    require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
    res, _ = env.do(http.MethodPost, "/dashboard/test/"+examID+"/submit", tok, gin.H{"reason": "normal"})
    assert.Equal(t, http.StatusConflict, res.StatusCode)

    res, body = env.do(http.MethodPost, "/api/v1/monitoring/exams/"+examID+"/students/u-s@example.com/allow-resubmit", teacherTok, nil)
    require.Equal(t, http.StatusOK, res.StatusCode, string(body))

    restart := start.Add(2 * time.Hour)
    ping(restart, "active")
    require.NoError(t, env.db.First(&tracker, tracker.ID).Error)
    assert.True(t, tracker.StartedAt.Equal(restart))
    assert.False(t, tracker.IsAllowedResubmit)

    res, _ = env.do(http.MethodPost, "/dashboard/test/"+examID+"/submit", tok, gin.H{"reason": "timeout"})
    assert.Equal(t, http.StatusCreated, res.StatusCode)

    res, body = env.do(http.MethodGet, "/api/v1/monitoring/exams/"+examID+"/activity", teacherTok, nil)
    require.Equal(t, http.StatusOK, res.StatusCode)
    rows := decode(t, body)["data"].([]any)
    require.Len(t, rows, 1)
    assert.Equal(t, "active", rows[0].(map[string]any)["status"])
}

func TestSubmitRejectsUnknownReason(t *testing.T) {
    env := newEnv(t)
    env.user(models.RoleTeacher, "t@example.com")
    examID := env.exam(env.login("t@example.com").Token)
    env.user(models.RoleStudent, "s@example.com")
    tok := env.login("s@example.com").Token

    res, _ := env.do(http.MethodPost, "/dashboard/test/"+examID+"/submit", tok, gin.H{"reason": "bored"})
    assert.Equal(t, http.StatusBadRequest, res.StatusCode)
    res, _ = env.do(http.MethodPost, "/dashboard/test/missing/submit", tok, gin.H{"reason": "normal"})
    assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestExamBootstrapCarriesPolicy(t *testing.T) {
    env := newEnv(t)
    env.user(models.RoleTeacher, "t@example.com")
    examID := env.exam(env.login("t@example.com").Token)
    env.user(models.RoleStudent, "s@example.com")
    tok := env.login("s@example.com").Token

    res, body := env.do(http.MethodGet, "/dashboard/test/"+examID, tok, nil)
    require.Equal(t, http.StatusOK, res.StatusCode)
    out := decode(t, body)
    assert.Equal(t, false, out["submitted"])
    policy := out["policy"].(map[string]any)
    assert.EqualValues(t, 3, policy["maxTotalViolations"])
    assert.EqualValues(t, 1000, policy["tabFocusCooldownMs"])
    assert.EqualValues(t, 60, out["exam"].(map[string]any)["duration_minutes"])
}

func TestAdminPolicyOverrides(t *testing.T) {
    env := newEnv(t)
    env.user(models.RoleAdmin, "a@example.com")
    adminTok := env.login("a@example.com").Token
    env.user(models.RoleTeacher, "t@example.com")
    teacherTok := env.login("t@example.com").Token

    res, _ := env.do(http.MethodPut, "/api/v1/admin/config/integrity", teacherTok, gin.H{"maxTotalViolations": 5})
    assert.Equal(t, http.StatusForbidden, res.StatusCode)

    for _, bad := range []gin.H{{"maxTotalViolations": 0}, {"bogus": 1}, {"maxTotalViolations": "five"}, {}} {
        res, body := env.do(http.MethodPut, "/api/v1/admin/config/integrity", adminTok, bad)
        assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))
    }

    res, body := env.do(http.MethodPut, "/api/v1/admin/config/integrity", adminTok, gin.H{"maxTotalViolations": 5})
    require.Equal(t, http.StatusOK, res.StatusCode, string(body))
    res, body = env.do(http.MethodPut, "/api/v1/admin/config/integrity", adminTok, gin.H{"pingIntervalMs": 15000})
    require.Equal(t, http.StatusOK, res.StatusCode, string(body))
    overrides := decode(t, body)["overrides"].(map[string]any)
    assert.EqualValues(t, 5, overrides["maxTotalViolations"])
    assert.EqualValues(t, 15000, overrides["pingIntervalMs"])

    res, body = env.do(http.MethodGet, "/api/v1/config/integrity", "", nil)
    require.Equal(t, http.StatusOK, res.StatusCode)
    policy := decode(t, body)["policy"].(map[string]any)
    assert.EqualValues(t, 5, policy["maxTotalViolations"])
    assert.EqualValues(t, 15000, policy["pingIntervalMs"])
    assert.EqualValues(t, 1000, policy["tabFocusCooldownMs"])

    res, _ = env.do(http.MethodDelete, "/api/v1/admin/config/integrity", adminTok, nil)
    require.Equal(t, http.StatusOK, res.StatusCode)
    _, body = env.do(http.MethodGet, "/api/v1/config/integrity", "", nil)
    assert.EqualValues(t, 3, decode(t, body)["policy"].(map[string]any)["maxTotalViolations"])
}

func TestCorruptPolicyOverridesAreNotReplaced(t *testing.T) {
    env := newEnv(t)
    env.user(models.RoleAdmin, "a@example.com")
    adminTok := env.login("a@example.com").Token
    require.NoError(t, env.db.Create(&models.AppConfig{Key: models.ConfigIntegrityPolicy, Value: "{not json"}).Error)

    res, body := env.do(http.MethodPut, "/api/v1/admin/config/integrity", adminTok, gin.H{"maxTotalViolations": 5})
    assert.Equal(t, http.StatusInternalServerError, res.StatusCode, string(body))

    var row models.AppConfig
    require.NoError(t, env.db.Where("key = ?", models.ConfigIntegrityPolicy).First(&row).Error)
    assert.Equal(t, "{not json", row.Value)
}

func TestSaveImage(t *testing.T) {
    env := newEnv(t)
    env.user(models.RoleStudent, "s@example.com")
    tok := env.login("s@example.com").Token

    upload := func(size int) *http.Response {
        var buf bytes.Buffer
        mw := multipart.NewWriter(&buf)
        require.NoError(t, mw.WriteField("examId", "exam-1"))
        fw, err := mw.CreateFormFile("image", "frame.jpg")
        require.NoError(t, err)
        _, err = fw.Write(bytes.Repeat([]byte{0xFF}, size))
        require.NoError(t, err)
        require.NoError(t, mw.Close())

        req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/save-image", &buf)
        require.NoError(t, err)
        req.Header.Set("Content-Type", mw.FormDataContentType())
        req.Header.Set("Authorization", "Bearer "+tok)
        res, _ := env.send(req)
        return res
    }

    assert.Equal(t, http.StatusOK, upload(2048).StatusCode)
    var recs []models.CaptureRecord
    require.NoError(t, env.db.Find(&recs).Error)
    require.Len(t, recs, 1)
    assert.EqualValues(t, 2048, recs[0].Size)
    assert.True(t, strings.HasPrefix(recs[0].ObjectKey, "integrity/u-s@example.com/exam-1/captured-"))

    assert.Equal(t, http.StatusRequestEntityTooLarge, upload(3<<19).StatusCode)

    env.user(models.RoleTeacher, "t@example.com")
    teacherTok := env.login("t@example.com").Token
    res, body := env.do(http.MethodGet, "/api/v1/monitoring/exams/exam-1/students/u-s@example.com/captures", teacherTok, nil)
    require.Equal(t, http.StatusOK, res.StatusCode, string(body))
    assert.Len(t, decode(t, body)["data"], 1)

    res, body = env.do(http.MethodGet, fmt.Sprintf("/api/v1/monitoring/captures/%d", recs[0].ID), teacherTok, nil)
    require.Equal(t, http.StatusOK, res.StatusCode)
    assert.Equal(t, "image/jpeg", res.Header.Get("Content-Type"))
    assert.Len(t, body, 2048)

    res, _ = env.do(http.MethodGet, "/api/v1/monitoring/captures/999", teacherTok, nil)
    assert.Equal(t, http.StatusNotFound, res.StatusCode)
    res, _ = env.do(http.MethodGet, "/api/v1/monitoring/captures/1", tok, nil)
    assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestForceLogoutReleasesStudent(t *testing.T) {
    env := newEnv(t)
    env.user(models.RoleTeacher, "t@example.com")
    teacherTok := env.login("t@example.com").Token
    student := env.user(models.RoleStudent, "s@example.com")
    tok := env.login("s@example.com").Token

    conn := env.dialWS("/api/v1/ws/student", tok)

    res, body := env.do(http.MethodPost, "/api/v1/monitoring/students/u-s@example.com/force-logout", teacherTok, nil)
    require.Equal(t, http.StatusOK, res.StatusCode, string(body))
    assert.EqualValues(t, 1, decode(t, body)["sessions_ended"])
    assert.Nil(t, env.reload(student).CurrentSessionID)

    var msg ws.StudentMessage
    readWS(t, conn, &msg)
    assert.Equal(t, ws.StudentForceLogout, msg.Type)

    res, _ = env.do(http.MethodGet, "/api/v1/auth/me", tok, nil)
    assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

    res, _ = env.do(http.MethodPost, "/api/v1/monitoring/students/u-t@example.com/force-logout", teacherTok, nil)
    assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestStudentSocketToldWhenSuperseded(t *testing.T) {
    env := newEnv(t)
    env.user(models.RoleStudent, "s@example.com")
    deviceA := env.login("s@example.com")
    conn := env.dialWS("/api/v1/ws/student", deviceA.Token)

    env.login("s@example.com")

    var msg ws.StudentMessage
    readWS(t, conn, &msg)
    assert.Equal(t, ws.StudentSessionSuperseded, msg.Type)
    assert.Equal(t, "session_mismatch", msg.Reason)
}

func TestMonitoringStreamReceivesIntegrityEvents(t *testing.T) {
    env := newEnv(t)
    env.user(models.RoleTeacher, "t@example.com")
    teacherTok := env.login("t@example.com").Token
    env.user(models.RoleStudent, "s@example.com")
    tok := env.login("s@example.com").Token

    conn := env.dialWS("/api/v1/ws/monitoring?exam_id=exam-9", teacherTok)

    res, _ := env.do(http.MethodPost, "/update-integrity", tok, gin.H{"examId": "exam-9", "eventType": "tabChanges"})
    require.Equal(t, http.StatusOK, res.StatusCode)

    var ev ws.MonitoringEvent
    readWS(t, conn, &ev)
    assert.Equal(t, ws.EventIntegrity, ev.Type)
    assert.Equal(t, "u-s@example.com", ev.UserID)
    require.NotNil(t, ev.Integrity)
    assert.Equal(t, 1, ev.Integrity.TabChanges)

    res, body := env.do(http.MethodGet, "/api/v1/monitoring/exams/exam-9/integrity", teacherTok, nil)
    require.Equal(t, http.StatusOK, res.StatusCode)
    rows := decode(t, body)["data"].([]any)
    require.Len(t, rows, 1)
    assert.EqualValues(t, 1, rows[0].(map[string]any)["tab_changes"])
    assert.Equal(t, "s@example.com", rows[0].(map[string]any)["email"])
}

func TestRoleGates(t *testing.T) {
    env := newEnv(t)
    env.user(models.RoleStudent, "s@example.com")
    env.user(models.RoleAdmin, "a@example.com")
    studentTok := env.login("s@example.com").Token
    adminTok := env.login("a@example.com").Token

    res, _ := env.do(http.MethodGet, "/api/v1/monitoring/exams/x/integrity", studentTok, nil)
    assert.Equal(t, http.StatusForbidden, res.StatusCode)
    res, _ = env.do(http.MethodGet, "/api/v1/monitoring/exams/x/integrity", adminTok, nil)
    assert.Equal(t, http.StatusOK, res.StatusCode)

    res, body := env.do(http.MethodPost, "/api/v1/admin/users", adminTok, gin.H{"full_name": "New", "email": "new@example.com", "password": "abcdef", "role": "teacher"})
    require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
    res, _ = env.do(http.MethodPost, "/api/v1/admin/users", adminTok, gin.H{"full_name": "New", "email": "new@example.com", "password": "abcdef"})
    assert.Equal(t, http.StatusConflict, res.StatusCode)
    res, _ = env.do(http.MethodPost, "/api/v1/admin/users", studentTok, gin.H{"full_name": "X", "email": "x@example.com", "password": "abcdef"})
    assert.Equal(t, http.StatusForbidden, res.StatusCode)

    res, body = env.do(http.MethodGet, "/api/v1/admin/users?role=teacher", adminTok, nil)
    require.Equal(t, http.StatusOK, res.StatusCode)
    assert.Len(t, decode(t, body)["data"], 1)

    var buf bytes.Buffer
    mw := multipart.NewWriter(&buf)
    fw, err := mw.CreateFormFile("file", "students.csv")
    require.NoError(t, err)
    _, err = io.WriteString(fw, "full_name,email,password\nRina,rina@example.com,pw\nDup,s@example.com,pw\n")
    require.NoError(t, err)
    require.NoError(t, mw.Close())
    req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/v1/admin/users/import", &buf)
    require.NoError(t, err)
    req.Header.Set("Content-Type", mw.FormDataContentType())
    req.Header.Set("Authorization", "Bearer "+adminTok)
    res, body = env.send(req)
    require.Equal(t, http.StatusOK, res.StatusCode, string(body))
    out := decode(t, body)
    assert.Equal(t, map[string]any{"total_rows": 2.0, "inserted": 1.0, "failed": 1.0}, out["summary"])
    failure := out["errors"].([]any)[0].(map[string]any)
    assert.EqualValues(t, 3, failure["row"])
    assert.Equal(t, "email already exists", failure["error"])
}

func TestLoginRejectsBadCredentials(t *testing.T) {
    env := newEnv(t)
    u := env.user(models.RoleStudent, "s@example.com")

    res, _ := env.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "s@example.com", "password": "nope"})
    assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

    require.NoError(t, env.db.Model(u).Update("active", false).Error)
    res, _ = env.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "s@example.com", "password": password})
    assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
    assert.Nil(t, env.reload(u).CurrentSessionID)
}

// destroyFailing makes the binder unable to end a superseded session.
type destroyFailing struct {
    session.Store
}

func (destroyFailing) Destroy(context.Context, string) error {
    return fmt.Errorf("session store unavailable")
}

func TestLoginFailsWhenOldSessionCannotBeDestroyed(t *testing.T) {
    env := newEnv(t, func(d *routes.Deps) {
        d.Binder.Store = destroyFailing{Store: d.Sessions}
    })
    u := env.user(models.RoleStudent, "s@example.com")
    first := env.login("s@example.com")

    res, body := env.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "s@example.com", "password": password})
    require.Equal(t, http.StatusInternalServerError, res.StatusCode, string(body))
    assert.NotContains(t, string(body), "access_token")

    stored := env.reload(u)
    require.NotNil(t, stored.CurrentSessionID)
    assert.Equal(t, first.SessionID, *stored.CurrentSessionID)

    // The session created for the failed login was discarded.
    var live int64
    require.NoError(t, env.db.Model(&models.LoginSession{}).
        Where("user_id_ref = ? AND destroyed_at IS NULL", u.UserID).Count(&live).Error)
    assert.Equal(t, int64(1), live)

    res, _ = env.do(http.MethodGet, "/api/check-session", first.Token, nil)
    assert.Equal(t, http.StatusOK, res.StatusCode)
}
