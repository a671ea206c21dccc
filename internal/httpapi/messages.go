package httpapi

import (
	"nawra-portal/internal/apiclient"
	"nawra-portal/internal/route"
)

type messageKey string

const (
	msgInvalidCredentials messageKey = "invalid_credentials"
	msgMissingFields      messageKey = "missing_fields"
	msgValidation         messageKey = "validation"
	msgNetwork            messageKey = "network"
	msgUnknown            messageKey = "unknown"
	msgRateLimited        messageKey = "rate_limited"
	msgSessionExpired     messageKey = "session_expired"
)

var messages = map[route.Locale]map[messageKey]string{
	route.LocaleEN: {
		msgInvalidCredentials: "Invalid email or password.",
		msgMissingFields:      "Email and password are required.",
		msgValidation:         "Please check the highlighted fields.",
		msgNetwork:            "Unable to reach the library service. Please try again.",
		msgUnknown:            "Something went wrong. Please try again.",
		msgRateLimited:        "Too many sign-in attempts. Please wait a minute.",
		msgSessionExpired:     "Your session has expired. Please sign in again.",
	},
	route.LocaleAR: {
		msgInvalidCredentials: "البريد الإلكتروني أو كلمة المرور غير صحيحة.",
		msgMissingFields:      "البريد الإلكتروني وكلمة المرور مطلوبان.",
		msgValidation:         "يرجى مراجعة الحقول المحددة.",
		msgNetwork:            "تعذر الوصول إلى خدمة المكتبة. يرجى المحاولة مرة أخرى.",
		msgUnknown:            "حدث خطأ ما. يرجى المحاولة مرة أخرى.",
		msgRateLimited:        "محاولات تسجيل دخول كثيرة. يرجى الانتظار دقيقة.",
		msgSessionExpired:     "انتهت جلستك. يرجى تسجيل الدخول مرة أخرى.",
	},
}

func message(l route.Locale, k messageKey) string {
	if m, ok := messages[l]; ok {
		if s, ok := m[k]; ok {
			return s
		}
	}
	return messages[route.DefaultLocale][k]
}

// loginMessage picks the user-facing text for a failed login.
func loginMessage(l route.Locale, kind apiclient.Kind) string {
	switch kind {
	case apiclient.KindAuthentication:
		return message(l, msgInvalidCredentials)
	case apiclient.KindValidation:
		return message(l, msgValidation)
	case apiclient.KindNetwork:
		return message(l, msgNetwork)
	default:
		return message(l, msgUnknown)
	}
}
