package auth

import "golang.org/x/crypto/bcrypt"

// bcrypt ignores everything past 72 bytes and newer library versions reject
// longer inputs outright. Truncate silently so long passphrases hash instead
// of erroring, matching the scheme's effective input bound.
const maxPasswordBytes = 72

// HashPassword returns a salted bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	pw := []byte(password)
	if len(pw) > maxPasswordBytes {
		pw = pw[:maxPasswordBytes]
	}
	hash, err := bcrypt.GenerateFromPassword(pw, bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether the password matches the stored hash.
func VerifyPassword(password, hash string) bool {
	pw := []byte(password)
	if len(pw) > maxPasswordBytes {
		pw = pw[:maxPasswordBytes]
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), pw) == nil
}
