package slack

import (
	"context"
	"fmt"
	"time"

	"github.com/pyama86/firefighter/domain/entity"
	"github.com/pyama86/firefighter/domain/repository"
)

type RoleReminderMode string

const (
	RoleReminderDisabled RoleReminderMode = "disabled"
	RoleReminderAlways   RoleReminderMode = "always"
	RoleReminderCooldown RoleReminderMode = "cooldown"
)

// RoleReminderPolicy はロールを割り当てられたユーザーにDMを送るかを決める
type RoleReminderPolicy struct {
	Mode     RoleReminderMode
	Cooldown time.Duration
}

func NewRoleReminderPolicy(mode string, cooldownDays int) (RoleReminderPolicy, error) {
	switch RoleReminderMode(mode) {
	case RoleReminderDisabled, RoleReminderAlways:
		return RoleReminderPolicy{Mode: RoleReminderMode(mode)}, nil
	case RoleReminderCooldown:
		if cooldownDays < 0 {
			return RoleReminderPolicy{}, fmt.Errorf("cooldown days must not be negative: %d", cooldownDays)
		}
		return RoleReminderPolicy{
			Mode:     RoleReminderCooldown,
			Cooldown: time.Duration(cooldownDays) * 24 * time.Hour,
		}, nil
	}
	return RoleReminderPolicy{}, fmt.Errorf("unknown role reminder mode: %q", mode)
}

// ShouldRemind はクールダウン中なら、同じユーザーが別のインシデントで同じロールを
// ウィンドウ内に割り当てられていたときにfalseを返す
func (p RoleReminderPolicy) ShouldRemind(ctx context.Context, roles repository.RoleRepository, incidentID int, roleType string, user *entity.User, now time.Time) (bool, error) {
	switch p.Mode {
	case RoleReminderDisabled:
		return false, nil
	case RoleReminderAlways:
		return true, nil
	}

	held, err := roles.RolesByUser(ctx, user.ID)
	if err != nil {
		return false, fmt.Errorf("failed to get roles of %s: %w", user.ID, err)
	}
	since := now.Add(-p.Cooldown)
	for _, r := range held {
		if r.IncidentID == incidentID || r.RoleType != roleType {
			continue
		}
		if r.AssignedAt.After(since) {
			return false, nil
		}
	}
	return true, nil
}
