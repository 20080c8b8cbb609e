package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrNotOpen  ErrCode = "GROUP_TEST_NOT_OPEN"

	// ─── Group test ────────────────────────────────────────────────────
	ErrInvalidPhase       ErrCode = "INVALID_PHASE"
	ErrTimeUp             ErrCode = "TIME_UP"
	ErrUnknownQuestion    ErrCode = "UNKNOWN_QUESTION"
	ErrInvalidAnswer      ErrCode = "INVALID_ANSWER"
	ErrSubmissionInFlight ErrCode = "SUBMISSION_IN_FLIGHT"
	ErrNothingToRetry     ErrCode = "NOTHING_TO_RETRY"
	ErrStateUnavailable   ErrCode = "STATE_STORE_UNAVAILABLE"
	ErrSessionClosed      ErrCode = "SESSION_CLOSED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Data yang dikirim tidak valid."
	case ErrInvalidID:
		return "ID tidak valid."
	case ErrInvalidPayload:
		return "Format data tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrNotOpen:
		return "Ujian kelompok belum dibuka di perangkat ini."

	// ─── Group test ────────────────────────────────────────────────────
	case ErrInvalidPhase:
		return "Aksi tidak diizinkan pada tahap ujian saat ini."
	case ErrTimeUp:
		return "Waktu ujian telah habis."
	case ErrUnknownQuestion:
		return "Soal tidak ditemukan pada ujian ini."
	case ErrInvalidAnswer:
		return "Jawaban tidak sesuai dengan pilihan soal."
	case ErrSubmissionInFlight:
		return "Jawaban sedang atau sudah dikirim."
	case ErrNothingToRetry:
		return "Tidak ada yang perlu diulang."
	case ErrStateUnavailable:
		return "Progres tidak dapat disimpan. Jawaban tetap tersimpan sementara."
	case ErrSessionClosed:
		return "Sesi ujian telah ditutup."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan pada server."

	default:
		return "Terjadi kesalahan yang tidak diketahui."
	}
}
