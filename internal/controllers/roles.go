package controllers

import "github.com/zaqqye/exam_guard/internal/models"

var allowedRoles = map[string]struct{}{
    models.RoleAdmin:   {},
    models.RoleTeacher: {},
    models.RoleStudent: {},
}

func IsValidRole(role string) bool {
    _, ok := allowedRoles[role]
    return ok
}
