package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uobsw2project/app"
	"uobsw2project/db"
	"uobsw2project/loans"
	"uobsw2project/loans/loanstest"
	"uobsw2project/models"
)

func init() { gin.SetMode(gin.TestMode) }

type memAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (m *memAudit) LogAudit(_ context.Context, e *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memAudit) ListAudit(_ context.Context, studentID uint, _ int) ([]models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditLog
	for _, e := range m.entries {
		if studentID == 0 || e.StudentID == studentID {
			out = append(out, e)
		}
	}
	return out, nil
}

type harness struct {
	store *loanstest.Store
	audit *memAudit
	r     *gin.Engine
}

// newHarness serves the desk handlers with a fixed caller. The X-Admin
// header makes the caller an admin.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: loanstest.New(), audit: &memAudit{}}
	s := &Srv{Engine: loans.New(h.store, nil), Audit: h.audit}

	r := gin.New()
	api := r.Group("/api", func(c *gin.Context) {
		c.Set(app.CtxUserID, uint(1))
		c.Set(app.CtxUsername, "desk")
		c.Set(app.CtxIsAdmin, c.GetHeader("X-Admin") == "1")
	})
	st := NewStudentController(s)
	api.GET("/students", st.List)
	api.POST("/students", st.Create)
	api.POST("/students/remove", st.Remove)
	api.GET("/students/:id", st.Report)
	api.POST("/students/:id/deactivate", st.Deactivate)
	dv := NewDeviceController(s)
	api.GET("/devices", dv.List)
	api.POST("/devices", dv.Create)
	api.GET("/devices/:id", dv.Report)
	ln := NewLoanController(s)
	api.POST("/loans/borrow", ln.Borrow)
	api.POST("/loans/return", ln.Return)
	api.GET("/loans", ln.List)
	api.GET("/search", s.Search)
	api.GET("/audit", s.ListAudit)
	h.r = r
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, admin bool) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-Admin", "1")
	}
	w := httptest.NewRecorder()
	h.r.ServeHTTP(w, req)
	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func TestLoanFlowOverHTTP(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodPost, "/api/students",
		app.H{"username": "ada", "firstname": "Ada", "lastname": "Lovelace", "email": "ada@example.com"}, false)
	require.Equal(t, http.StatusCreated, code, body)
	sid := body["studentId"]

	code, body = h.do(t, http.MethodPost, "/api/devices", app.H{"deviceType": "Laptop"}, true)
	require.Equal(t, http.StatusCreated, code, body)
	did := body["deviceId"]

	code, body = h.do(t, http.MethodPost, "/api/loans/borrow", app.H{"studentId": sid, "deviceId": did}, false)
	require.Equal(t, http.StatusCreated, code, body)
	assert.Nil(t, body["returndatetime"])

	code, body = h.do(t, http.MethodPost, "/api/loans/borrow", app.H{"studentId": sid, "deviceId": did}, false)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, loans.ErrAlreadyHoldingDevice.Error(), body["error"])

	code, body = h.do(t, http.MethodGet, "/api/devices?status=on_loan", nil, false)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["total"])

	code, body = h.do(t, http.MethodPost, "/api/loans/return", app.H{"studentId": sid, "deviceId": did}, false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
	loan := body["loan"].(map[string]any)
	assert.NotNil(t, loan["returndatetime"])

	code, body = h.do(t, http.MethodPost, "/api/loans/return", app.H{"studentId": sid, "deviceId": did}, false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, loans.ErrNoMatchingOpenLoan.Error(), body["info"])

	code, body = h.do(t, http.MethodGet, "/api/loans?status=returned", nil, false)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["items"], 1)
}

func TestBorrowErrorsOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.store.SeedStudent(models.Student{ID: 1, Username: "a", LastName: "A", Email: "a@x.org", Active: false})
	h.store.SeedDevice(models.Device{ID: 10, DeviceType: "Tablet"})

	code, _ := h.do(t, http.MethodPost, "/api/loans/borrow", app.H{"studentId": 1, "deviceId": 10}, false)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = h.do(t, http.MethodPost, "/api/loans/borrow", app.H{"studentId": 1}, false)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodGet, "/api/devices?status=broken", nil, false)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodGet, "/api/students/abc", nil, false)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodGet, "/api/devices/99", nil, false)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDuplicateStudentReportsField(t *testing.T) {
	h := newHarness(t)
	in := app.H{"username": "ada", "lastname": "Lovelace", "email": "ada@example.com"}
	code, _ := h.do(t, http.MethodPost, "/api/students", in, false)
	require.Equal(t, http.StatusCreated, code)

	in["email"] = "other@example.com"
	code, body := h.do(t, http.MethodPost, "/api/students", in, false)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "username", body["field"])
}

func TestInvalidStudentIsBadRequest(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(t, http.MethodPost, "/api/students",
		app.H{"username": "   ", "lastname": "Lovelace", "email": "ada@example.com"}, false)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "username", body["field"])

	code, _ = h.do(t, http.MethodPost, "/api/devices", app.H{"deviceType": "  "}, true)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = h.do(t, http.MethodGet, "/api/students", nil, false)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["total"])
}

func TestListLoansRejectsUnknownStatus(t *testing.T) {
	h := newHarness(t)
	code, _ := h.do(t, http.MethodGet, "/api/loans?status=bogus", nil, false)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := h.do(t, http.MethodGet, "/api/loans?status=open", nil, false)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["items"])
}

func TestDeactivateAndRemove(t *testing.T) {
	h := newHarness(t)
	h.store.SeedStudent(models.Student{ID: 1, Username: "ada", LastName: "L", Email: "ada@example.com", Active: true})
	h.store.SeedDevice(models.Device{ID: 10, DeviceType: "Tablet"})
	code, _ := h.do(t, http.MethodPost, "/api/loans/borrow", app.H{"studentId": 1, "deviceId": 10}, false)
	require.Equal(t, http.StatusCreated, code)

	code, body := h.do(t, http.MethodPost, "/api/students/1/deactivate", nil, false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["student"].(map[string]any)["active"])

	// the open loan survives deactivation
	code, body = h.do(t, http.MethodGet, "/api/loans?studentId=1&status=open", nil, false)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["items"], 1)

	rm := app.H{"username": "ada", "email": "ada@example.com"}
	code, _ = h.do(t, http.MethodPost, "/api/students/remove", app.H{"username": "nobody", "email": "n@x.org"}, false)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = h.do(t, http.MethodPost, "/api/students/remove", rm, false)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = h.do(t, http.MethodPost, "/api/students/remove", rm, true)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["removed"].(map[string]any)["loansDeleted"])
	assert.Empty(t, h.store.Loans())

	require.Len(t, h.audit.entries, 2)
	assert.Equal(t, AuditDeactivate, h.audit.entries[0].Action)
	assert.Equal(t, AuditRemove, h.audit.entries[1].Action)
	assert.Equal(t, "desk", h.audit.entries[1].ActorUsername)

	code, body = h.do(t, http.MethodGet, "/api/audit?studentId=1", nil, true)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["items"], 2)
}

func TestRemoveIntegrityFailure(t *testing.T) {
	h := newHarness(t)
	h.store.SeedStudent(models.Student{ID: 1, Username: "ada", LastName: "L", Email: "ada@example.com", Active: true})
	h.store.FailOn("DeleteStudent", &loans.ConstraintError{Constraint: models.FkLoanStudent, ForeignKey: true})

	code, body := h.do(t, http.MethodPost, "/api/students/remove", app.H{"username": "ada", "email": "ada@example.com"}, true)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, loans.ErrDeletionConflict.Error(), body["error"])
	_, ok := h.store.Student(1)
	assert.True(t, ok)
	assert.Empty(t, h.audit.entries)
}

func TestSearchOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.store.SeedStudent(models.Student{ID: 1, Username: "ada", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Active: true})
	h.store.SeedDevice(models.Device{ID: 10, DeviceType: "Laptop"})

	code, body := h.do(t, http.MethodGet, "/api/search?kind=student", nil, false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["searched"])
	assert.Empty(t, body["items"])

	code, body = h.do(t, http.MethodGet, "/api/search?kind=student&q=zzz", nil, false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["searched"])
	assert.Empty(t, body["items"])

	code, body = h.do(t, http.MethodGet, "/api/search?kind=device&q=LAP", nil, false)
	require.Equal(t, http.StatusOK, code)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "device", items[0].(map[string]any)["kind"])

	code, _ = h.do(t, http.MethodGet, "/api/search?kind=staff&q=x", nil, false)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRespondErrStoreFailure(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	respondErr(c, errors.Join(loans.ErrStore, errors.New("connection refused")))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestRegisterConflictNamesField(t *testing.T) {
	name, ok := db.ViolatedConstraint(&loans.ConstraintError{Constraint: "idx_users_email"})
	require.True(t, ok)
	assert.Equal(t, "email already registered", registerConflictMsg(name))
	assert.Equal(t, "username already registered", registerConflictMsg("idx_users_username"))

	_, ok = db.ViolatedConstraint(db.ErrInviteUnusable)
	assert.False(t, ok)
}

func TestPasswordHashing(t *testing.T) {
	_, err := hashPassword("short")
	assert.Error(t, err)

	hash, err := hashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, checkPassword(hash, "correct horse"))
	assert.False(t, checkPassword(hash, "wrong horse"))
}

func TestSMTPMailer(t *testing.T) {
	exp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	dev := &SMTPMailer{}
	assert.NoError(t, dev.SendInvite("a@example.com", "https://desk/register?inviteToken=t", exp))

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg string
	m := &SMTPMailer{
		Addr: "smtp.example.com:587", User: "u", Pass: "p", From: "desk@example.com", AppName: "Desk",
		send: func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
			return nil
		},
	}
	require.NoError(t, m.SendInvite("new@example.com", "https://desk/register?inviteToken=t", exp))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "desk@example.com", gotFrom)
	assert.Equal(t, []string{"new@example.com"}, gotTo)
	assert.True(t, strings.HasPrefix(gotMsg, "From: Desk <desk@example.com>\r\n"))
	assert.Contains(t, gotMsg, "inviteToken=t")

	bad := &SMTPMailer{Addr: "no-port", User: "u"}
	assert.Error(t, bad.SendInvite("x@example.com", "l", exp))
}
