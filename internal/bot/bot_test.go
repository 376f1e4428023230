package bot

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xorboo/TeemoBot/internal/engine"
	"github.com/Xorboo/TeemoBot/internal/identity"
	"github.com/Xorboo/TeemoBot/internal/platform"
	"github.com/Xorboo/TeemoBot/internal/rank"
	"github.com/Xorboo/TeemoBot/internal/reconcile"
)

func command(name string) *Command {
	return &Command{
		Definition: &discordgo.ApplicationCommand{Name: name},
		Handler:    func(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {},
	}
}

func TestRouter(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.Register(command("nick")))
	require.NoError(t, r.Register(command("confirm")))

	assert.Error(t, r.Register(command("nick")), "duplicate names are rejected")

	cmd, err := r.Get("confirm")
	require.NoError(t, err)
	assert.Equal(t, "confirm", cmd.Definition.Name)

	_, err = r.Get("games")
	assert.Error(t, err)

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "nick", defs[0].Name)
}

func TestBuildRouter(t *testing.T) {
	b := &Bot{}
	r, err := b.buildRouter()
	require.NoError(t, err)

	var names []string
	for _, def := range r.Definitions() {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{
		"nick", "confirm", "code", "base", "region", "setregion",
		"force", "setchannel", "cosmetic", "ban", "unban", "sync", "riotkey",
	}, names)

	force, err := r.Get("force")
	require.NoError(t, err)
	assert.True(t, force.Deferred)
	assert.NotNil(t, force.Definition.DefaultMemberPermissions)
}

func TestDescribeOutcome_RollbackHint(t *testing.T) {
	o := &engine.Outcome{
		MemberID:         "42",
		Nickname:         "Foo",
		RawTier:          rank.Diamond,
		Tier:             rank.Bronze,
		VerificationCode: "ABCDEFGH",
	}

	msg := describeOutcome(o, rank.DefaultPolicy())
	assert.Contains(t, msg, "<@42> is now **bronze** as `Foo`.")
	assert.Contains(t, msg, "`ABCDEFGH`")
	assert.Contains(t, msg, "**diamond**")
}

func TestDescribeOutcome_ConfirmedWithDisplacement(t *testing.T) {
	o := &engine.Outcome{
		MemberID:       "1",
		Nickname:       "Foo",
		RawTier:        rank.Diamond,
		Tier:           rank.Diamond,
		Confirmed:      true,
		NewlyConfirmed: true,
		Displaced:      []string{"2", "3"},
	}

	msg := describeOutcome(o, rank.DefaultPolicy())
	assert.Contains(t, msg, "Account confirmed.")
	assert.Contains(t, msg, "<@2>, <@3>")
	assert.NotContains(t, msg, "verification code")
}

func TestDescribeOutcome_ReconcileFailures(t *testing.T) {
	o := &engine.Outcome{
		MemberID: "1",
		Nickname: "Foo",
		Tier:     rank.Gold,
		Report: reconcile.Report{
			Roles: reconcile.Result{Err: fmt.Errorf("%w: gold", reconcile.ErrRoleNotConfigured)},
			Name:  reconcile.Result{Err: platform.ErrForbidden},
		},
	}

	msg := describeOutcome(o, rank.DefaultPolicy())
	assert.Contains(t, msg, "no `gold` role")
	assert.Contains(t, msg, "cannot rename you")
}

func TestDescribeOutcome_NotFoundAndMissing(t *testing.T) {
	msg := describeOutcome(&engine.Outcome{MemberID: "1", NotFound: true, PreviousNickname: "Ghost"}, rank.DefaultPolicy())
	assert.Contains(t, msg, "`Ghost` was not found")

	assert.Empty(t, describeOutcome(&engine.Outcome{MemberMissing: true}, rank.DefaultPolicy()))
}

func TestDescribeError(t *testing.T) {
	assert.Contains(t, describeError("1", &engine.IdentityConflictError{OwnerID: "9"}), "<@9>")
	assert.Contains(t, describeError("1", &identity.ServiceUnavailableError{Code: 503}), "503")
	assert.Contains(t, describeError("1", engine.ErrBanned), "banned")
	assert.Contains(t, describeError("1", fmt.Errorf("%w: 400", identity.ErrRequestRejected)), "region")
	assert.Contains(t, describeError("1", engine.ErrNoClaim), "/nick")
	assert.Contains(t, describeError("1", fmt.Errorf("boom")), "Something went wrong")
}
