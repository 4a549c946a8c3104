// Package trustkit provides role-based access control and a content trust
// gate for a community platform.
//
// # Core Concepts
//
// Role: A named bundle of permissions with a merge priority. System roles
// (superuser, admin, moderator, member) are created by Seed and cannot be
// renamed or deleted.
//
// Permission: A (resource, action) pair drawn from a closed vocabulary, such
// as lore.edit or roles.manage. A PermissionMatrix is sparse: an absent
// entry is a denial.
//
// Grant: A record that a user holds a role. Revocation flips the grant
// inactive; history is never deleted.
//
// Effective permissions: The active roles a user holds are merged in
// ascending priority, ties broken by role ID, each role overriding only the
// entries it sets. The result is deterministic for the same inputs.
//
// Trust record: A per-user score starting at 100. Each violation subtracts a
// category penalty, floored at zero. Status escalates clear -> watched ->
// walled and never recovers on its own; only ResetTrust clears it.
//
// Shadow log: A record of blocked content holding a keyed hash and a masked
// preview, never the content itself.
//
// # Basic Usage
//
//	// 1. Connect and migrate
//	kit, _ := dbkit.New(dbkit.Config{URL: os.Getenv("DATABASE_URL")})
//	kit.Migrate(ctx, trustkit.Migrations())
//
//	// 2. Create the service and seed system roles
//	service := trustkit.NewService(trustkit.NewPostgresStore(kit),
//	    trustkit.WithSuperusers("owner-user-id"),
//	    trustkit.WithCache(trustkit.NewLRUCache(10000, 30*time.Second)),
//	)
//	service.Seed(ctx)
//
//	// 3. Check permissions
//	if service.HasPermission(ctx, userID, trustkit.ResourceLore, trustkit.ActionEdit) {
//	    // ...
//	}
//
//	// 4. Gate user content
//	res := service.Guard(ctx, userID, message, "chat.message", trustkit.RequestMetaFromContext(ctx))
//	if res.Blocked {
//	    // reply with res.Reason only
//	}
//
// # HTTP Middleware
//
//	mw := trustkit.NewMiddleware(service)
//	router.Use(mw.InjectAuditContext)
//	router.Handle("/chat", mw.GuardContent("message", "chat.message")(chatHandler))
//	router.Handle("/roles", mw.RequirePermission(trustkit.ResourceRoles, trustkit.ActionManage)(rolesHandler))
//
// # Audit Logging
//
// Every mutating administrative call records one audit entry with the actor,
// the target and previous/new snapshots. The actor comes from WithActorID
// (or WithUserID); request metadata comes from InjectAuditContext. A failed
// audit write is logged and counted but does not fail the call.
package trustkit
