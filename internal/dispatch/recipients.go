package dispatch

import (
	"go.uber.org/zap"

	"github.com/msanchis/physionotify/internal/db"
)

// Legacy display names that identified structural roles before the role
// column existed. Rows without a role still resolve through these, so
// pre-migration data keeps working.
const (
	legacyBoardName          = "Colegio de Fisioterapeutas"
	legacySocialSecurityName = "Seguridad Social"
	legacySelfName           = "Profesional"
)

// Roles holds the recipients resolved for each structural role of a dispatch.
// A nil entry means no active recipient plays that role; the engine then
// skips the role's message (board, social security) or skips only the audit
// row (self).
type Roles struct {
	Board          *db.Recipient
	SocialSecurity *db.Recipient
	Self           *db.Recipient
}

// ResolveRoles selects, from the active recipients, the one playing each
// structural role. The role column wins; the legacy display name is the
// fallback. Missing roles are logged so a misconfigured recipient table is
// visible instead of silently producing partial dispatches.
func ResolveRoles(recipients []*db.Recipient, logger *zap.Logger) Roles {
	var roles Roles

	pick := func(slot **db.Recipient, role, legacyName string) {
		for _, r := range recipients {
			if r.Role == role {
				*slot = r
				return
			}
		}
		for _, r := range recipients {
			if r.Role == "" && r.Name == legacyName {
				*slot = r
				return
			}
		}
	}

	pick(&roles.Board, db.RoleBoard, legacyBoardName)
	pick(&roles.SocialSecurity, db.RoleSocialSecurity, legacySocialSecurityName)
	pick(&roles.Self, db.RoleSelf, legacySelfName)

	if roles.Board == nil {
		logger.Warn("no active recipient for board role, board messages will be skipped")
	}
	if roles.SocialSecurity == nil {
		logger.Warn("no active recipient for social security role, social security messages will be skipped")
	}
	if roles.Self == nil {
		logger.Warn("no active recipient for self role, professional sends will not be audited")
	}

	return roles
}
