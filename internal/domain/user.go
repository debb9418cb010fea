package domain

import "time"

// User 用户（身份由外部系统签发，此处只保存通知与授权所需字段）
type User struct {
	UserID      string
	Name        string
	Email       string
	Role        string
	EnablePush  bool
	EnableEmail bool
	QuietStart  *ClockTime // 免打扰窗口起点（可跨午夜）
	QuietEnd    *ClockTime
}

// InQuietHours 判断某时刻是否落在用户的免打扰窗口内
// 未配置窗口时恒为 false
func (u *User) InQuietHours(now time.Time) bool {
	if u.QuietStart == nil || u.QuietEnd == nil {
		return false
	}
	w := TimeWindow{Start: *u.QuietStart, End: *u.QuietEnd}
	return w.Contains(now)
}

// Device 用户注册的推送端点
type Device struct {
	DeviceID   string
	UserID     string
	PushToken  string
	DeviceType string
	Active     bool
	LastSeenAt *time.Time
}

// DutySlot 值班档期（原排班表）
// 某时刻某通道的值班人即该通道事件的接收人
type DutySlot struct {
	SlotID   string
	UserID   string
	Channel  string
	StartsAt time.Time
	EndsAt   time.Time
}
