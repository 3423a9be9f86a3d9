package sms

// RedactPhone keeps the last four digits of a phone number for logs.
func RedactPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "***" + phone[len(phone)-4:]
}
