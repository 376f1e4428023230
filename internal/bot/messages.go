package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Xorboo/TeemoBot/internal/engine"
	"github.com/Xorboo/TeemoBot/internal/identity"
	"github.com/Xorboo/TeemoBot/internal/rank"
	"github.com/Xorboo/TeemoBot/internal/reconcile"
)

// describeOutcome renders a status line for a resolution. Empty means nothing to say.
func describeOutcome(o *engine.Outcome, policy *rank.Policy) string {
	if o.MemberMissing {
		return ""
	}
	mention := fmt.Sprintf("<@%s>", o.MemberID)

	var lines []string
	switch {
	case o.NotFound:
		lines = append(lines, fmt.Sprintf("%s, summoner `%s` was not found, your rank was reset.", mention, o.PreviousNickname))
	case o.Nickname == "":
		lines = append(lines, fmt.Sprintf("%s has no linked account, rank reset.", mention))
	default:
		lines = append(lines, fmt.Sprintf("%s is now **%s** as `%s`.", mention, o.Tier.RoleName(), o.Nickname))
	}

	if o.NewlyConfirmed {
		lines = append(lines, "Account confirmed.")
	}
	if o.RolledBack() {
		lines = append(lines, fmt.Sprintf("Ranks from **%s** up need proof that the account is yours, so you get **%s** for now.",
			o.RawTier.RoleName(), policy.Rollback().RoleName()))
		lines = append(lines, codeHint(o.VerificationCode))
	}
	if len(o.Displaced) > 0 {
		lines = append(lines, fmt.Sprintf("Removed the same claim from %s.", mentions(o.Displaced)))
	}

	if msg := describeRoleError(o.Tier, o.Report.Roles.Err); msg != "" {
		lines = append(lines, msg)
	}
	if o.Report.Name.Err != nil {
		lines = append(lines, describeNameError(o.MemberID, o.Report.Name.Err))
	}
	return strings.Join(lines, "\n")
}

// describeError renders a rejected resolution
func describeError(memberID string, err error) string {
	var conflict *engine.IdentityConflictError
	var unavailable *identity.ServiceUnavailableError

	switch {
	case errors.As(err, &conflict):
		return fmt.Sprintf("That account is already confirmed by <@%s>.", conflict.OwnerID)
	case errors.As(err, &unavailable):
		return fmt.Sprintf("The Riot API is not answering right now (code %d), try again later.", unavailable.Code)
	case errors.Is(err, identity.ErrRequestRejected):
		return "The Riot API refused that lookup, check the name and the server region."
	case errors.Is(err, engine.ErrBanned):
		return fmt.Sprintf("<@%s> is banned from linking accounts here.", memberID)
	case errors.Is(err, engine.ErrNoClaim):
		return "Link your account first with `/nick`."
	default:
		return "Something went wrong, please try again."
	}
}

func describeRoleError(tier rank.Tier, err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, reconcile.ErrRoleNotConfigured):
		return fmt.Sprintf("This server has no `%s` role, ask an admin to add it.", tier.RoleName())
	case errors.Is(err, reconcile.ErrInsufficientPrivilege):
		return "I cannot change roles, ask an admin to move my role above the rank roles."
	default:
		return "Changing the rank role failed."
	}
}

func describeNameError(memberID string, err error) string {
	if errors.Is(err, reconcile.ErrInsufficientPrivilege) {
		return fmt.Sprintf("<@%s>, I cannot rename you, please change your nickname yourself.", memberID)
	}
	return "Changing the nickname failed."
}

func codeHint(code string) string {
	return fmt.Sprintf("Your verification code is `%s`. Put it in the League client under Settings > Verification, then run `/confirm`.", code)
}

func displacedMessage(o *engine.Outcome) string {
	return fmt.Sprintf("<@%s> confirmed `%s`; the claims of %s were removed.", o.MemberID, o.Nickname, mentions(o.Displaced))
}

func welcomeMessage(memberID string) string {
	return fmt.Sprintf("Welcome <@%s>! Link your League account with `/nick` to get your rank role.", memberID)
}

func mentions(ids []string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = fmt.Sprintf("<@%s>", id)
	}
	return strings.Join(out, ", ")
}
