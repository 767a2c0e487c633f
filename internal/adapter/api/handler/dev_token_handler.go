package handler

import (
	"github.com/labstack/echo/v4"

	"rentalchat/internal/domain/entity"
	"rentalchat/internal/domain/repository"
	"rentalchat/internal/infrastructure/firebase"
	"rentalchat/pkg/errors"
	"rentalchat/pkg/response"
)

// UserSeeder stores user records in development mode.
type UserSeeder interface {
	Put(user entity.User)
}

// DevTokenHandler issues development tokens. It is only routed when the
// server runs without Firebase.
type DevTokenHandler struct {
	profiles repository.ProfileRepository
	seeder   UserSeeder
}

type devUserRequest struct {
	ID         string `json:"id" validate:"required,max=128"`
	Username   string `json:"username" validate:"max=64"`
	FullName   string `json:"full_name" validate:"max=128"`
	AvatarURL  string `json:"avatar_url" validate:"omitempty,url"`
	AvatarPath string `json:"avatar_path"`
}

func NewDevTokenHandler(profiles repository.ProfileRepository, seeder UserSeeder) *DevTokenHandler {
	return &DevTokenHandler{
		profiles: profiles,
		seeder:   seeder,
	}
}

// GenerateUserToken returns the token for an existing user.
func (h *DevTokenHandler) GenerateUserToken(c echo.Context) error {
	uid := c.Param("uid")
	profile, err := h.profiles.GetProfile(c.Request().Context(), uid)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]interface{}{
		"token": firebase.DevToken(uid),
		"user":  profile,
	})
}

// CreateUser stores a user record and returns its token.
func (h *DevTokenHandler) CreateUser(c echo.Context) error {
	if h.seeder == nil {
		return response.Error(c, errors.BadRequest("User seeding is not available", nil))
	}

	var req devUserRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	user := entity.User{
		ID:         req.ID,
		Username:   req.Username,
		FullName:   req.FullName,
		AvatarURL:  req.AvatarURL,
		AvatarPath: req.AvatarPath,
	}
	h.seeder.Put(user)

	return response.Created(c, map[string]interface{}{
		"token": firebase.DevToken(user.ID),
		"user":  user.Profile(),
	})
}
