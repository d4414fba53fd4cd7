package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"carelink/internal/core"
	"carelink/pkg"
)

var errBadBody = &core.ValidationError{Reason: "invalid request body"}

func (s *Server) signupPatient(c echo.Context) error {
	var in pkg.PatientSignup
	if err := c.Bind(&in); err != nil {
		return s.fail(c, errBadBody)
	}
	p, err := s.Accounts.SignupPatient(c.Request().Context(), in)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) signupDoctor(c echo.Context) error {
	var in pkg.DoctorSignup
	if err := c.Bind(&in); err != nil {
		return s.fail(c, errBadBody)
	}
	d, err := s.Accounts.SignupDoctor(c.Request().Context(), in)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, d)
}

// login issues a session for role and sets it as an HttpOnly cookie.
func (s *Server) login(role pkg.Role) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in pkg.Credentials
		if err := c.Bind(&in); err != nil {
			return s.fail(c, errBadBody)
		}
		res, err := s.Accounts.Login(c.Request().Context(), role, in.Email, in.Password)
		if err != nil {
			return s.fail(c, err)
		}
		c.SetCookie(&http.Cookie{
			Name:     SessionCookie,
			Value:    res.Token,
			Path:     "/",
			MaxAge:   int(s.SessionTTL.Seconds()),
			HttpOnly: true,
			Secure:   s.SecureCookie,
			SameSite: http.SameSiteLaxMode,
		})
		return c.JSON(http.StatusOK, res)
	}
}

func (s *Server) logout(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return c.NoContent(http.StatusNoContent)
}

// -- Patient --

func (s *Server) postChat(c echo.Context) error {
	var in pkg.ChatRequest
	if err := c.Bind(&in); err != nil {
		return s.fail(c, errBadBody)
	}
	reply, err := s.Chat.PostMessage(c.Request().Context(), principal(c).UID, in.Message)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, pkg.ChatResponse{Response: reply})
}

func (s *Server) chatHistory(c echo.Context) error {
	history, err := s.Chat.History(c.Request().Context(), principal(c).UID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, history)
}

func (s *Server) sendToDoctor(c echo.Context) error {
	var in pkg.ChatRequest
	if err := c.Bind(&in); err != nil {
		return s.fail(c, errBadBody)
	}
	if err := s.Threads.SendToDoctor(c.Request().Context(), principal(c).UID, in.Message); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"status": "sent"})
}

func (s *Server) ownThread(c echo.Context) error {
	messages, err := s.Threads.List(c.Request().Context(), principal(c).UID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, messages)
}

// -- Doctor --

func (s *Server) listPatients(c echo.Context) error {
	patients, err := s.Linkage.ListPatients(c.Request().Context(), principal(c).UID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, patients)
}

func (s *Server) patientHistory(c echo.Context) error {
	history, err := s.Chat.History(c.Request().Context(), c.Param("uid"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, history)
}

func (s *Server) analyze(c echo.Context) error {
	snapshot, err := s.Analysis.Analyze(c.Request().Context(), principal(c).UID, c.Param("uid"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (s *Server) latestAnalysis(c echo.Context) error {
	snapshot, err := s.Analysis.Latest(c.Request().Context(), principal(c).UID, c.Param("uid"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (s *Server) sendToPatient(c echo.Context) error {
	var in pkg.ChatRequest
	if err := c.Bind(&in); err != nil {
		return s.fail(c, errBadBody)
	}
	if err := s.Threads.Send(c.Request().Context(), principal(c).UID, c.Param("uid"), in.Message); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"status": "sent"})
}

func (s *Server) patientThread(c echo.Context) error {
	messages, err := s.Threads.List(c.Request().Context(), c.Param("uid"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, messages)
}
