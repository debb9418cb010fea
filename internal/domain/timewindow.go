package domain

import (
	"fmt"
	"time"
)

// ClockTime 一天内的时刻（从午夜起的分钟数，0-1439）
type ClockTime int

// ParseClockTime 解析 "HH:MM" 格式的时刻字符串
func ParseClockTime(s string) (ClockTime, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid clock time %q: out of range", s)
	}
	return ClockTime(hour*60 + minute), nil
}

// ClockTimeOf 取某个时间点在一天内的时刻
func ClockTimeOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

// String 格式化为 "HH:MM"
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// TimeWindow 一天内的时间窗口，允许跨午夜（如 22:00-06:00）
type TimeWindow struct {
	Start ClockTime
	End   ClockTime
}

// ParseTimeWindow 从 "HH:MM" 起止字符串构建时间窗口
func ParseTimeWindow(start, end string) (TimeWindow, error) {
	s, err := ParseClockTime(start)
	if err != nil {
		return TimeWindow{}, err
	}
	e, err := ParseClockTime(end)
	if err != nil {
		return TimeWindow{}, err
	}
	return TimeWindow{Start: s, End: e}, nil
}

// Contains 判断时间点是否落在窗口内（含边界）
// 跨午夜窗口（End < Start）按回绕处理：22:00-06:00 包含 23:30 和 02:00，不包含 10:00
func (w TimeWindow) Contains(t time.Time) bool {
	c := ClockTimeOf(t)
	if w.Start <= w.End {
		return c >= w.Start && c <= w.End
	}
	return c >= w.Start || c <= w.End
}
