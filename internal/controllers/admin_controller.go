package controllers

import (
    "bytes"
    "encoding/csv"
    "errors"
    "fmt"
    "io"
    "log/slog"
    "net/http"
    "path/filepath"
    "strings"

    "github.com/gin-gonic/gin"
    "github.com/google/uuid"
    "gorm.io/gorm"

    "github.com/zaqqye/exam_guard/internal/models"
    "github.com/zaqqye/exam_guard/internal/session"
    "github.com/zaqqye/exam_guard/internal/utils"
    "github.com/zaqqye/exam_guard/internal/ws"
)

type AdminController struct {
    DB     *gorm.DB
    Binder *session.Binder
    Hubs   *ws.Hubs
    Log    *slog.Logger
}

type importFailure struct {
    Row   int    `json:"row"`
    Email string `json:"email,omitempty"`
    Error string `json:"error"`
}

// userSheet is a parsed CSV upload: the header positions and a reader
// positioned at the first data row.
type userSheet struct {
    cols   map[string]int
    reader *csv.Reader
}

var requiredUserColumns = []string{"full_name", "email", "password"}

func openUserSheet(data []byte) (*userSheet, error) {
    data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
    data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
    if len(bytes.TrimSpace(data)) == 0 {
        return nil, errors.New("file is empty")
    }
    header, _, _ := bytes.Cut(data, []byte("\n"))

    r := csv.NewReader(bytes.NewReader(data))
    r.TrimLeadingSpace = true
    r.FieldsPerRecord = -1
    if bytes.IndexByte(header, ';') >= 0 && bytes.IndexByte(header, ',') < 0 {
        r.Comma = ';'
    }
    names, err := r.Read()
    if err != nil {
        return nil, errors.New("failed to read header")
    }
    cols := make(map[string]int, len(names))
    for i, name := range names {
        if key := strings.ToLower(strings.Trim(strings.TrimSpace(name), `"'`)); key != "" {
            cols[key] = i
        }
    }
    for _, key := range requiredUserColumns {
        if _, ok := cols[key]; !ok {
            return nil, fmt.Errorf("missing header column: %s", key)
        }
    }
    return &userSheet{cols: cols, reader: r}, nil
}

func (s *userSheet) field(record []string, key string) string {
    i, ok := s.cols[key]
    if !ok || i >= len(record) {
        return ""
    }
    return strings.TrimSpace(record[i])
}

// user builds the account described by one data row. Role defaults to
// student and active to true.
func (s *userSheet) user(record []string) (*models.User, error) {
    u := &models.User{
        UserID:   uuid.NewString(),
        FullName: s.field(record, "full_name"),
        Email:    strings.ToLower(s.field(record, "email")),
        Role:     strings.ToLower(s.field(record, "role")),
        Active:   true,
    }
    password := s.field(record, "password")
    if u.FullName == "" || u.Email == "" || password == "" {
        return u, errors.New("full_name, email, and password are required")
    }
    if u.Role == "" {
        u.Role = models.RoleStudent
    }
    if !IsValidRole(u.Role) {
        return u, errors.New("invalid role")
    }
    switch strings.ToLower(s.field(record, "active")) {
    case "", "true", "1", "yes", "y", "active":
    case "false", "0", "no", "n", "inactive":
        u.Active = false
    default:
        return u, errors.New("invalid active value")
    }
    hashed, err := utils.HashPassword(password)
    if err != nil {
        return u, fmt.Errorf("failed to hash password: %v", err)
    }
    u.Password = hashed
    return u, nil
}

// ImportUsers bulk-creates users from a CSV upload in field "file". Rows fail
// independently; the response lists every failure by line.
func (a *AdminController) ImportUsers(c *gin.Context) {
    fh, err := c.FormFile("file")
    if err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
        return
    }
    if !strings.EqualFold(filepath.Ext(strings.TrimSpace(fh.Filename)), ".csv") {
        c.JSON(http.StatusBadRequest, gin.H{"error": "only .csv files are allowed"})
        return
    }
    f, err := fh.Open()
    if err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
        return
    }
    data, err := io.ReadAll(io.LimitReader(f, 10<<20))
    f.Close()
    if err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
        return
    }
    sheet, err := openUserSheet(data)
    if err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }

    db := a.DB.WithContext(c.Request.Context())
    total, inserted := 0, 0
    failures := []importFailure{}
    for line := 2; ; line++ {
        record, err := sheet.reader.Read()
        if err == io.EOF {
            break
        }
        total++
        if err != nil {
            failures = append(failures, importFailure{Row: line, Error: fmt.Sprintf("failed to read row: %v", err)})
            continue
        }
        u, err := sheet.user(record)
        if err == nil {
            err = db.Create(u).Error
            if errors.Is(err, gorm.ErrDuplicatedKey) {
                err = errors.New("email already exists")
            }
        }
        if err != nil {
            failures = append(failures, importFailure{Row: line, Email: u.Email, Error: err.Error()})
            continue
        }
        inserted++
    }
    a.Log.Info("users imported", "rows", total, "inserted", inserted, "failed", len(failures))

    c.JSON(http.StatusOK, gin.H{
        "summary": gin.H{"total_rows": total, "inserted": inserted, "failed": len(failures)},
        "errors":  failures,
    })
}

func (a *AdminController) ListUsers(c *gin.Context) {
    p := parseListParams(c, map[string]string{
        "created_at": "created_at",
        "full_name":  "full_name",
        "email":      "email",
        "role":       "role",
        "active":     "active",
    }, "created_at")

    base := a.DB.WithContext(c.Request.Context()).Model(&models.User{})
    if q := strings.TrimSpace(c.Query("q")); q != "" {
        like := "%" + strings.ToLower(q) + "%"
        base = base.Where("LOWER(full_name) LIKE ? OR LOWER(email) LIKE ?", like, like)
    }
    if role := strings.ToLower(strings.TrimSpace(c.Query("role"))); role != "" {
        if !IsValidRole(role) {
            c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
            return
        }
        base = base.Where("role = ?", role)
    }
    switch strings.ToLower(strings.TrimSpace(c.Query("active"))) {
    case "":
    case "true", "1":
        base = base.Where("active = ?", true)
    case "false", "0":
        base = base.Where("active = ?", false)
    default:
        c.JSON(http.StatusBadRequest, gin.H{"error": "invalid active value"})
        return
    }
    base = base.Session(&gorm.Session{})

    var total int64
    if err := base.Count(&total).Error; err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    var users []models.User
    if err := p.apply(base).Find(&users).Error; err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    out := make([]gin.H, 0, len(users))
    for i := range users {
        out = append(out, userJSON(&users[i]))
    }
    c.JSON(http.StatusOK, gin.H{"data": out, "meta": p.meta(total)})
}

func (a *AdminController) GetUser(c *gin.Context) {
    u, err := a.Binder.LookupUser(c.Request.Context(), c.Param("user_id"))
    if err != nil {
        c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
        return
    }
    c.JSON(http.StatusOK, userJSON(u))
}

type updateUserRequest struct {
    FullName *string         `json:"full_name"`
    Password *FlexibleString `json:"password"`
    Role     *string         `json:"role"`
    Active   *bool           `json:"active"`
}

// UpdateUser edits a user. Deactivating a student also ends their sessions.
func (a *AdminController) UpdateUser(c *gin.Context) {
    ctx := c.Request.Context()
    u, err := a.Binder.LookupUser(ctx, c.Param("user_id"))
    if err != nil {
        c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
        return
    }
    var req updateUserRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }

    if req.FullName != nil {
        u.FullName = *req.FullName
    }
    if req.Role != nil {
        if !IsValidRole(*req.Role) {
            c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
            return
        }
        u.Role = *req.Role
    }
    deactivated := false
    if req.Active != nil {
        deactivated = u.Active && !*req.Active
        u.Active = *req.Active
    }
    if req.Password != nil {
        if raw := strings.TrimSpace(req.Password.String()); raw != "" {
            pw, err := utils.HashPassword(raw)
            if err != nil {
                c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
                return
            }
            u.Password = pw
        }
    }
    // current_session_id belongs to the binder; never write it from here.
    err = a.DB.WithContext(ctx).Model(u).Select("full_name", "role", "active", "password").Updates(u).Error
    if err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    if deactivated {
        if _, err := a.Binder.Release(ctx, u); err != nil {
            a.Log.Error("end sessions of deactivated user", "user_id", u.UserID, "error", err)
        }
        broadcastLogout(a.Hubs, u.UserID)
    }
    c.JSON(http.StatusOK, gin.H{"message": "updated"})
}

// DeleteUser removes a user and ends their sessions. Integrity records and
// submissions are kept for review.
func (a *AdminController) DeleteUser(c *gin.Context) {
    ctx := c.Request.Context()
    u, err := a.Binder.LookupUser(ctx, c.Param("user_id"))
    if err != nil {
        c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
        return
    }
    if _, err := a.Binder.Store.DestroyForUser(ctx, u.UserID); err != nil {
        a.Log.Error("end sessions of deleted user", "user_id", u.UserID, "error", err)
    }
    if err := a.DB.WithContext(ctx).Delete(&models.User{}, u.ID).Error; err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    broadcastLogout(a.Hubs, u.UserID)
    c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func userJSON(u *models.User) gin.H {
    return gin.H{
        "user_id":    u.UserID,
        "full_name":  u.FullName,
        "email":      u.Email,
        "role":       u.Role,
        "active":     u.Active,
        "created_at": u.CreatedAt,
        "updated_at": u.UpdatedAt,
    }
}
