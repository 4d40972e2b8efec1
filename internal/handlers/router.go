package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pliu/parley/internal/auth"
	"github.com/pliu/parley/internal/middleware"
)

// Router collects the handlers served under one mux.
type Router struct {
	Auth     *AuthHandler
	Chat     *ChatHandler
	Channels *ChannelHandler
	Issuer   *auth.Issuer

	// Media, when set, serves stored attachments under MediaPrefix.
	Media       http.Handler
	MediaPrefix string
}

// Handler builds the route table. Everything but signup, login and logout
// requires a session.
func (rt Router) Handler() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/signup", rt.Auth.Signup).Methods(http.MethodPost)
	r.HandleFunc("/login", rt.Auth.Login).Methods(http.MethodPost)
	r.HandleFunc("/logout", rt.Auth.Logout).Methods(http.MethodPost)

	api := r.NewRoute().Subrouter()
	api.Use(middleware.AuthMiddleware(rt.Issuer))

	api.HandleFunc("/me", rt.Auth.Me).Methods(http.MethodGet)
	api.HandleFunc("/me", rt.Auth.UpdateProfile).Methods(http.MethodPatch)
	api.HandleFunc("/me/password", rt.Auth.ChangePassword).Methods(http.MethodPost)
	api.HandleFunc("/users/search", rt.Auth.SearchUsers).Methods(http.MethodGet)

	api.HandleFunc("/messages", rt.Chat.SendMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages/sync", rt.Chat.Sync).Methods(http.MethodGet)
	api.HandleFunc("/unread", rt.Chat.Unread).Methods(http.MethodGet)
	api.HandleFunc("/conversations", rt.Chat.Conversations).Methods(http.MethodGet)
	api.HandleFunc("/search", rt.Chat.Search).Methods(http.MethodGet)
	api.HandleFunc("/ws", rt.Chat.ServeWS)

	api.HandleFunc("/channels", rt.Channels.CreateChannel).Methods(http.MethodPost)
	api.HandleFunc("/channels", rt.Channels.ListChannels).Methods(http.MethodGet)
	api.HandleFunc("/channels/{id:[0-9]+}", rt.Channels.GetChannel).Methods(http.MethodGet)
	api.HandleFunc("/channels/{id:[0-9]+}", rt.Channels.UpdateChannel).Methods(http.MethodPatch)
	api.HandleFunc("/channels/{id:[0-9]+}/members", rt.Channels.ListMembers).Methods(http.MethodGet)
	api.HandleFunc("/channels/{id:[0-9]+}/members", rt.Channels.AddMember).Methods(http.MethodPost)
	api.HandleFunc("/channels/{id:[0-9]+}/members/{user_id:[0-9]+}", rt.Channels.RemoveMember).Methods(http.MethodDelete)
	api.HandleFunc("/channels/{id:[0-9]+}/members/{user_id:[0-9]+}/permission", rt.Channels.SetPermission).Methods(http.MethodPut)

	if rt.Media != nil && rt.MediaPrefix != "" {
		prefix := rt.MediaPrefix + "/"
		api.PathPrefix(prefix).Handler(http.StripPrefix(prefix, rt.Media)).Methods(http.MethodGet, http.MethodHead)
	}
	return r
}
