package routes

import (
    "log/slog"
    "net/http"

    "github.com/gin-gonic/gin"
    "gorm.io/gorm"

    "github.com/zaqqye/exam_guard/internal/capture"
    "github.com/zaqqye/exam_guard/internal/config"
    "github.com/zaqqye/exam_guard/internal/controllers"
    "github.com/zaqqye/exam_guard/internal/integrity"
    "github.com/zaqqye/exam_guard/internal/middleware"
    "github.com/zaqqye/exam_guard/internal/models"
    "github.com/zaqqye/exam_guard/internal/session"
    "github.com/zaqqye/exam_guard/internal/ws"
)

// Deps is everything the HTTP surface needs. Binder.Store must be Sessions.
type Deps struct {
    DB       *gorm.DB
    Cfg      *config.Config
    Sessions session.Store
    Binder   *session.Binder
    Hubs     *ws.Hubs
    Captures *capture.Service
    Log      *slog.Logger
}

func AuthConfig(cfg *config.Config) middleware.AuthConfig {
    return middleware.AuthConfig{
        JWTSecret:       cfg.JWTSecret,
        SessionTTL:      cfg.SessionTTL,
        CookieName:      cfg.SessionCookieName,
        FlashCookieName: cfg.FlashCookieName,
        CookieSecure:    cfg.CookieSecure,
    }
}

func Register(r *gin.Engine, d Deps) {
    authCfg := AuthConfig(d.Cfg)

    // Every request is identified; exam routes additionally get the
    // single-session check.
    r.Use(middleware.Identify(d.Sessions, authCfg))
    r.Use(middleware.SessionGuard(d.Binder, authCfg, d.Log))

    authCtrl := &controllers.AuthController{DB: d.DB, Sessions: d.Sessions, Binder: d.Binder, Auth: authCfg, Log: d.Log}
    adminCtrl := &controllers.AdminController{DB: d.DB, Binder: d.Binder, Hubs: d.Hubs, Log: d.Log}
    cfgCtrl := &controllers.ConfigController{DB: d.DB, Cfg: d.Cfg, Log: d.Log}
    integrityCtrl := &controllers.IntegrityController{Store: integrity.NewStore(d.DB), Hubs: d.Hubs, Log: d.Log}
    activityCtrl := &controllers.ActivityController{DB: d.DB, Hubs: d.Hubs, Log: d.Log}
    captureCtrl := &controllers.CaptureController{Captures: d.Captures, MaxBytes: d.Cfg.CaptureMaxBytes, Log: d.Log}
    examCtrl := &controllers.ExamController{DB: d.DB, Cfg: d.Cfg, Hubs: d.Hubs, Log: d.Log}
    monCtrl := &controllers.MonitoringController{DB: d.DB, Binder: d.Binder, Hubs: d.Hubs, Log: d.Log}

    // Public
    r.GET("/health", func(c *gin.Context) {
        c.JSON(http.StatusOK, gin.H{"status": "ok"})
    })
    r.GET(middleware.LoginPath, authCtrl.LoginPage)
    r.POST(middleware.LoginPath, authCtrl.Login)
    r.GET("/logout", authCtrl.Logout)
    r.POST("/logout", authCtrl.Logout)
    r.GET("/api/check-session", authCtrl.CheckSession)
    r.GET("/api/v1/config/integrity", cfgCtrl.Integrity)

    auth := r.Group("/api/v1/auth")
    {
        auth.POST("/login", authCtrl.Login)
        auth.POST("/logout", authCtrl.Logout)
        auth.GET("/me", middleware.RequireAuth(), authCtrl.Me)
    }

    // Exam taking (students; admin passes any role gate)
    exam := r.Group("", middleware.RequireAuth(), middleware.RequireRoles(models.RoleStudent))
    {
        exam.POST("/update-integrity", integrityCtrl.Update)
        exam.POST("/dashboard/see-active", activityCtrl.SeeActive)
        exam.POST("/save-image", captureCtrl.SaveImage)
        exam.GET("/dashboard/test/:examId", examCtrl.Bootstrap)
        exam.POST("/dashboard/test/:examId/submit", examCtrl.Submit)
        exam.GET("/api/v1/ws/student", ws.StudentHandler(d.Hubs.Student))
    }

    api := r.Group("/api/v1", middleware.RequireAuth())
    {
        admin := api.Group("/admin", middleware.RequireRoles(models.RoleAdmin))
        {
            admin.GET("/users", adminCtrl.ListUsers)
            admin.POST("/users", authCtrl.Register)
            admin.POST("/users/import", adminCtrl.ImportUsers)
            admin.GET("/users/:user_id", adminCtrl.GetUser)
            admin.PUT("/users/:user_id", adminCtrl.UpdateUser)
            admin.DELETE("/users/:user_id", adminCtrl.DeleteUser)

            admin.GET("/config/integrity", cfgCtrl.IntegrityOverrides)
            admin.PUT("/config/integrity", cfgCtrl.UpdateIntegrityOverrides)
            admin.DELETE("/config/integrity", cfgCtrl.ResetIntegrityOverrides)
        }

        staff := api.Group("", middleware.RequireRoles(models.RoleTeacher))
        {
            staff.GET("/exams", examCtrl.List)
            staff.POST("/exams", examCtrl.Create)

            staff.GET("/monitoring/exams/:examId/integrity", monCtrl.Integrity)
            staff.GET("/monitoring/exams/:examId/activity", monCtrl.Activity)
            staff.POST("/monitoring/students/:userId/force-logout", monCtrl.ForceLogout)
            staff.POST("/monitoring/exams/:examId/students/:userId/allow-resubmit", monCtrl.AllowResubmit)
            staff.GET("/monitoring/exams/:examId/students/:userId/captures", captureCtrl.ListForAttempt)
            staff.GET("/monitoring/captures/:captureId", captureCtrl.Image)

            staff.GET("/ws/monitoring", ws.MonitoringHandler(d.Hubs.Monitoring))
        }
    }
}
