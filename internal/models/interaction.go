package models

// Interaction types.
const (
	InteractionLike      = "like"
	InteractionSuperlike = "superlike"
	InteractionBlock     = "block"
	InteractionPass      = "pass"
	InteractionVisit     = "visit"
)

// Interaction records an action one user took towards another.
type Interaction struct {
	BaseModel

	UserID       string `gorm:"type:varchar(36);not null;index:idx_interactions_actor_type,priority:1" json:"user_id"`
	TargetUserID string `gorm:"type:varchar(36);not null;index" json:"target_user_id"`
	Type         string `gorm:"type:varchar(16);not null;index:idx_interactions_actor_type,priority:2" json:"type"`
}
