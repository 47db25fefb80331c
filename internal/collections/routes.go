package collections

import (
	"github.com/gofiber/fiber/v2"

	"slate-backend/internal/activity"
	"slate-backend/internal/engine"
	"slate-backend/internal/mail"
	"slate-backend/internal/schema"
	"slate-backend/internal/storage"
	"slate-backend/internal/store"
)

// Deps bundles what the collection extensions need.
type Deps struct {
	Store    *store.Store
	Catalog  *schema.Catalog
	Gateway  *engine.Gateway
	Recorder *activity.Recorder
	Notifier mail.Notifier
	Storage  *storage.FileStorage
}

// RegisterHooks attaches the collection write hooks to the gateway.
func RegisterHooks(g *engine.Gateway) {
	g.RegisterWriteHook("_users", UserWriteHook)
}

// RegisterRoutes mounts the collection extension surface. All routes
// assume the auth middleware already ran.
func RegisterRoutes(router fiber.Router, d Deps) {
	prefs := &PreferencesHandler{Store: d.Store, Catalog: d.Catalog}
	router.Get("/tables/:table/preferences", prefs.GetPreference)
	router.Put("/tables/:table/preferences", prefs.SavePreference)
	router.Get("/tables/:table/preferences/snapshots", prefs.ListSnapshots)
	router.Delete("/preferences/:id", prefs.DeleteSnapshot)

	bookmarks := &BookmarksHandler{Store: d.Store}
	router.Get("/bookmarks", bookmarks.ListBookmarks)
	router.Post("/bookmarks", bookmarks.CreateBookmark)
	router.Delete("/bookmarks/:id", bookmarks.DeleteBookmark)

	messages := &MessagesHandler{Store: d.Store, Recorder: d.Recorder, Notifier: d.Notifier}
	router.Get("/messages/self", messages.Inbox)
	router.Get("/messages/self/:id", messages.GetMessage)
	router.Post("/messages", messages.SendMessage)
	router.Get("/comments/:table/:id", messages.ListComments)
	router.Post("/comments/:table/:id", messages.AddComment)

	settings := &SettingsHandler{Store: d.Store}
	router.Get("/settings", settings.ListSettings)
	router.Get("/settings/:collection", settings.GetCollection)
	router.Put("/settings/:collection", settings.SaveCollection)

	groups := &GroupsHandler{Store: d.Store}
	router.Get("/groups", groups.ListGroups)
	router.Get("/groups/:id", groups.GetGroup)
	router.Post("/groups", groups.CreateGroup)

	privileges := &PrivilegesHandler{Store: d.Store, Catalog: d.Catalog}
	router.Get("/privileges/:groupId", privileges.ListGroupPrivileges)
	router.Post("/privileges/:groupId", privileges.SaveGroupPrivilege)
	router.Put("/privileges/:groupId/:privilegeId", privileges.UpdateGroupPrivilege)

	files := &FilesHandler{Gateway: d.Gateway, Storage: d.Storage}
	router.Post("/files", files.Upload)
	router.Get("/files/:id", files.GetFile)
	router.Get("/files/:id/content", files.Download)
	router.Post("/upload", files.Upload)
	router.Post("/upload/link", files.UploadFromLink)

	feed := &ActivityHandler{Recorder: d.Recorder}
	router.Get("/activity", feed.Feed)
}
