package maaltijd

// Identity is the read-only snapshot of a signed-in user as reported by
// the identity provider. Email may be empty for providers that do not
// release one.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// WhitelistEntry is a single approved address in the whitelist collection.
type WhitelistEntry struct {
	Email     string `json:"email" firestore:"email"`
	Note      string `json:"note,omitempty" firestore:"note"`
	CreatedAt int64  `json:"created_at" firestore:"created_at"`
}
