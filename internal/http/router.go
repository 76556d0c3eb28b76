package http

import (
	"net/http"
	"strings"
)

// RouterConfig wires handlers and middleware into the API router. Session
// guards every route except registration, login, refresh and the probes.
// LoginLimit throttles login and refresh.
type RouterConfig struct {
	Auth       *AuthHandler
	Users      *UserHandler
	Rooms      *RoomHandler
	Meetings   *MeetingHandler
	Metrics    http.Handler
	Session    func(http.Handler) http.Handler
	LoginLimit func(http.Handler) http.Handler
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	protect := func(h http.HandlerFunc) http.Handler {
		if cfg.Session == nil {
			return h
		}
		return cfg.Session(h)
	}
	limit := func(h http.HandlerFunc) http.Handler {
		if cfg.LoginLimit == nil {
			return h
		}
		return cfg.LoginLimit(h)
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics)
	}

	if cfg.Auth != nil {
		login := limit(cfg.Auth.CreateSession)
		refresh := limit(cfg.Auth.RefreshSession)
		logoutAll := protect(cfg.Auth.DeleteAllSessions)
		logout := protect(cfg.Auth.DeleteCurrentSession)
		changePassword := protect(cfg.Auth.ChangePassword)
		listDevices := protect(cfg.Auth.ListDevices)
		revokeDevice := protect(cfg.Auth.RevokeDevice)
		disableDevice := protect(cfg.Auth.DisableDevice)

		mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost:
				login.ServeHTTP(w, r)
			case http.MethodDelete:
				logoutAll.ServeHTTP(w, r)
			default:
				methodNotAllowed(w, http.MethodPost, http.MethodDelete)
			}
		})
		mux.HandleFunc("/sessions/refresh", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			refresh.ServeHTTP(w, r)
		})
		mux.HandleFunc("/sessions/current", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodDelete {
				methodNotAllowed(w, http.MethodDelete)
				return
			}
			logout.ServeHTTP(w, r)
		})
		mux.HandleFunc("/users/me/password", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPut {
				methodNotAllowed(w, http.MethodPut)
				return
			}
			changePassword.ServeHTTP(w, r)
		})
		mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			listDevices.ServeHTTP(w, r)
		})
		mux.HandleFunc("/devices/", func(w http.ResponseWriter, r *http.Request) {
			parts := pathSegments(r.URL.Path, "/devices/")
			if len(parts) == 0 {
				http.NotFound(w, r)
				return
			}
			r = r.WithContext(ContextWithDeviceID(r.Context(), parts[0]))
			switch {
			case len(parts) == 1 && r.Method == http.MethodDelete:
				revokeDevice.ServeHTTP(w, r)
			case len(parts) == 1:
				methodNotAllowed(w, http.MethodDelete)
			case len(parts) == 2 && parts[1] == "disable" && r.Method == http.MethodPost:
				disableDevice.ServeHTTP(w, r)
			case len(parts) == 2 && parts[1] == "disable":
				methodNotAllowed(w, http.MethodPost)
			default:
				http.NotFound(w, r)
			}
		})
	}

	if cfg.Auth != nil || cfg.Users != nil {
		var register, list http.Handler
		if cfg.Auth != nil {
			register = http.HandlerFunc(cfg.Auth.Register)
		}
		if cfg.Users != nil {
			list = protect(cfg.Users.List)
		}
		mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodPost && register != nil:
				register.ServeHTTP(w, r)
			case r.Method == http.MethodGet && list != nil:
				list.ServeHTTP(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPost)
			}
		})
	}

	if cfg.Users != nil {
		me := protect(cfg.Users.Me)
		setStatus := protect(cfg.Users.SetStatus)
		remove := protect(cfg.Users.Delete)

		mux.HandleFunc("/users/", func(w http.ResponseWriter, r *http.Request) {
			parts := pathSegments(r.URL.Path, "/users/")
			if len(parts) == 0 {
				http.NotFound(w, r)
				return
			}
			if parts[0] == "me" && len(parts) == 1 {
				if r.Method != http.MethodGet {
					methodNotAllowed(w, http.MethodGet)
					return
				}
				me.ServeHTTP(w, r)
				return
			}
			r = r.WithContext(ContextWithUserID(r.Context(), parts[0]))
			switch {
			case len(parts) == 1 && r.Method == http.MethodDelete:
				remove.ServeHTTP(w, r)
			case len(parts) == 1:
				methodNotAllowed(w, http.MethodDelete)
			case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodPut:
				setStatus.ServeHTTP(w, r)
			case len(parts) == 2 && parts[1] == "status":
				methodNotAllowed(w, http.MethodPut)
			default:
				http.NotFound(w, r)
			}
		})
	}

	if cfg.Rooms != nil {
		list := protect(cfg.Rooms.List)
		create := protect(cfg.Rooms.Create)
		available := protect(cfg.Rooms.Available)
		get := protect(cfg.Rooms.Get)
		update := protect(cfg.Rooms.Update)
		remove := protect(cfg.Rooms.Delete)
		setStatus := protect(cfg.Rooms.SetStatus)
		availability := protect(cfg.Rooms.Availability)

		mux.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				list.ServeHTTP(w, r)
			case http.MethodPost:
				create.ServeHTTP(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPost)
			}
		})
		mux.HandleFunc("/rooms/", func(w http.ResponseWriter, r *http.Request) {
			parts := pathSegments(r.URL.Path, "/rooms/")
			if len(parts) == 0 {
				http.NotFound(w, r)
				return
			}
			if parts[0] == "available" && len(parts) == 1 {
				if r.Method != http.MethodGet {
					methodNotAllowed(w, http.MethodGet)
					return
				}
				available.ServeHTTP(w, r)
				return
			}
			r = r.WithContext(ContextWithRoomID(r.Context(), parts[0]))
			if len(parts) == 1 {
				switch r.Method {
				case http.MethodGet:
					get.ServeHTTP(w, r)
				case http.MethodPut:
					update.ServeHTTP(w, r)
				case http.MethodDelete:
					remove.ServeHTTP(w, r)
				default:
					methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
				}
				return
			}
			switch {
			case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodPut:
				setStatus.ServeHTTP(w, r)
			case len(parts) == 2 && parts[1] == "status":
				methodNotAllowed(w, http.MethodPut)
			case len(parts) == 2 && parts[1] == "availability" && r.Method == http.MethodGet:
				availability.ServeHTTP(w, r)
			case len(parts) == 2 && parts[1] == "availability":
				methodNotAllowed(w, http.MethodGet)
			default:
				http.NotFound(w, r)
			}
		})
	}

	if cfg.Meetings != nil {
		create := protect(cfg.Meetings.Create)
		list := protect(cfg.Meetings.List)
		get := protect(cfg.Meetings.Get)
		update := protect(cfg.Meetings.Update)
		reschedule := protect(cfg.Meetings.Reschedule)
		cancel := protect(cfg.Meetings.Cancel)
		addParticipant := protect(cfg.Meetings.AddParticipant)
		removeParticipant := protect(cfg.Meetings.RemoveParticipant)

		mux.HandleFunc("/meetings", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost:
				create.ServeHTTP(w, r)
			case http.MethodGet:
				list.ServeHTTP(w, r)
			default:
				methodNotAllowed(w, http.MethodGet, http.MethodPost)
			}
		})
		mux.HandleFunc("/meetings/", func(w http.ResponseWriter, r *http.Request) {
			parts := pathSegments(r.URL.Path, "/meetings/")
			if len(parts) == 0 {
				http.NotFound(w, r)
				return
			}
			r = r.WithContext(ContextWithMeetingID(r.Context(), parts[0]))
			switch {
			case len(parts) == 1:
				switch r.Method {
				case http.MethodGet:
					get.ServeHTTP(w, r)
				case http.MethodPut:
					update.ServeHTTP(w, r)
				default:
					methodNotAllowed(w, http.MethodGet, http.MethodPut)
				}
			case len(parts) == 2 && parts[1] == "schedule":
				if r.Method != http.MethodPut {
					methodNotAllowed(w, http.MethodPut)
					return
				}
				reschedule.ServeHTTP(w, r)
			case len(parts) == 2 && parts[1] == "cancel":
				if r.Method != http.MethodPost {
					methodNotAllowed(w, http.MethodPost)
					return
				}
				cancel.ServeHTTP(w, r)
			case len(parts) == 3 && parts[1] == "participants":
				r = r.WithContext(ContextWithUserID(r.Context(), parts[2]))
				switch r.Method {
				case http.MethodPost:
					addParticipant.ServeHTTP(w, r)
				case http.MethodDelete:
					removeParticipant.ServeHTTP(w, r)
				default:
					methodNotAllowed(w, http.MethodPost, http.MethodDelete)
				}
			default:
				http.NotFound(w, r)
			}
		})
	}

	var handler http.Handler = mux
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		if cfg.Middleware[i] != nil {
			handler = cfg.Middleware[i](handler)
		}
	}
	return handler
}

// pathSegments splits the path below prefix, dropping empty segments.
func pathSegments(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
