package database

import "huddle/internal/models"

// PersistentModels lists every gorm model owned by the service, in migration order.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Conversation{},
		&models.ConversationMember{},
		&models.ContactRelationship{},
		&models.Message{},
		&models.MessageFile{},
		&models.MessageReaction{},
		&models.MessageDeletion{},
	}
}
