/**
 * 周期规则
 * @date: 2026.10.17
 * @description: 根据频率规则计算下次运行时间。daily/weekly 转换成标准 cron 表达式后由 robfig/cron 求值，
 *   结果严格晚于 now；hourly 为 now 加一小时。
 */
package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	orcModel "neotask/internal/model/orchestrator"

	"github.com/robfig/cron/v3"
)

// NextRun 计算 now 之后的下次运行时间
// 返回 false 表示不再运行：频率为 once 或下次时间超过 EndDate
func NextRun(s *orcModel.TaskSchedule, now time.Time, loc *time.Location) (time.Time, bool, error) {
	if !s.IsRecurring() {
		return time.Time{}, false, nil
	}
	if loc == nil {
		loc = time.Local
	}

	// 尚未到开始日期时从开始日期起算
	base := now.In(loc)
	fromStart := s.StartDate != nil && s.StartDate.After(now)
	if fromStart {
		base = s.StartDate.In(loc)
	}

	var next time.Time
	switch s.Frequency {
	case orcModel.FrequencyHourly:
		if fromStart {
			next = base
		} else {
			next = base.Add(time.Hour)
		}
	default:
		spec, err := cronSpec(s)
		if err != nil {
			return time.Time{}, false, err
		}
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return time.Time{}, false, orcModel.ConfigError("schedule.cron", "invalid cron expression %q: %v", spec, err)
		}
		if fromStart {
			base = base.Add(-time.Second)
		}
		next = sched.Next(base)
		if next.IsZero() {
			return time.Time{}, false, nil
		}
	}

	if s.EndDate != nil && next.After(*s.EndDate) {
		return time.Time{}, false, nil
	}
	return next, true, nil
}

// FirstRun 新建任务的首次运行时间：once 在开始日期或立即运行，其余按规则计算
func FirstRun(s *orcModel.TaskSchedule, now time.Time, loc *time.Location) (time.Time, bool, error) {
	if s == nil {
		return now, true, nil
	}
	if err := Validate(s); err != nil {
		return time.Time{}, false, err
	}
	if s.IsRecurring() {
		return NextRun(s, now, loc)
	}
	if s.StartDate != nil && s.StartDate.After(now) {
		return *s.StartDate, true, nil
	}
	return now, true, nil
}

// Validate 校验周期规则
func Validate(s *orcModel.TaskSchedule) error {
	switch s.Frequency {
	case "", orcModel.FrequencyOnce, orcModel.FrequencyHourly:
	case orcModel.FrequencyDaily, orcModel.FrequencyWeekly, orcModel.FrequencyCron:
		spec, err := cronSpec(s)
		if err != nil {
			return err
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return orcModel.ConfigError("schedule.cron", "invalid cron expression %q: %v", spec, err)
		}
	default:
		return orcModel.ConfigError("schedule", "unsupported frequency: %s", s.Frequency)
	}
	if s.StartDate != nil && s.EndDate != nil && s.EndDate.Before(*s.StartDate) {
		return orcModel.ConfigError("schedule", "end_date is before start_date")
	}
	return nil
}

// cronSpec 把 daily/weekly 规则转换成 5 段 cron 表达式
func cronSpec(s *orcModel.TaskSchedule) (string, error) {
	if s.Frequency == orcModel.FrequencyCron {
		if strings.TrimSpace(s.Cron) == "" {
			return "", orcModel.ConfigError("schedule.cron", "cron expression is required")
		}
		return s.Cron, nil
	}

	hour, minute, err := parseTimeOfDay(s.TimeOfDay)
	if err != nil {
		return "", err
	}
	if s.Frequency == orcModel.FrequencyDaily {
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	}

	if len(s.DaysOfWeek) == 0 {
		return "", orcModel.ConfigError("schedule.weekly", "days_of_week is required")
	}
	days := append([]int(nil), s.DaysOfWeek...)
	sort.Ints(days)
	parts := make([]string, 0, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			return "", orcModel.ConfigError("schedule.weekly", "invalid day of week: %d", d)
		}
		parts = append(parts, strconv.Itoa(d))
	}
	return fmt.Sprintf("%d %d * * %s", minute, hour, strings.Join(parts, ",")), nil
}

// parseTimeOfDay 解析 HH:mm
func parseTimeOfDay(v string) (int, int, error) {
	if v == "" {
		return 0, 0, orcModel.ConfigError("schedule.time_of_day", "time_of_day is required")
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, orcModel.ConfigError("schedule.time_of_day", "invalid time_of_day %q, expected HH:mm", v)
	}
	return t.Hour(), t.Minute(), nil
}
