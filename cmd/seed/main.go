// Command main fills a development database with users, contacts, groups and
// message history. Everything past the users goes through the services so the
// data obeys the same rules as live traffic.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"slices"

	"huddle/internal/config"
	"huddle/internal/database"
	"huddle/internal/featureflags"
	"huddle/internal/models"
	"huddle/internal/repository"
	"huddle/internal/service"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

type seeder struct {
	db       *gorm.DB
	convs    *service.ConversationService
	contacts *service.ContactService
	messages *service.MessageService
}

func main() {
	numUsers := flag.Int("users", 30, "Number of users to create")
	numGroups := flag.Int("groups", 8, "Number of group conversations to create")
	perConv := flag.Int("messages", 25, "Messages per conversation")
	seed := flag.Int64("seed", 0, "Random seed (0 picks one)")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	flag.Parse()

	log.Println("🌱 Huddle Seeder")
	log.Printf("Target: %d users, %d groups, %d messages per conversation, clean=%v\n", *numUsers, *numGroups, *perConv, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	gofakeit.Seed(*seed)

	s := newSeeder(db)
	ctx := context.Background()

	if *shouldClean {
		if err := s.clearAll(); err != nil {
			log.Fatalf("❌ Cleanup failed: %v", err)
		}
	}

	users, err := s.seedUsers(*numUsers)
	if err != nil {
		log.Fatalf("❌ User seeding failed: %v", err)
	}
	log.Printf("✓ Created %d users", len(users))

	directs, err := s.seedContacts(ctx, users)
	if err != nil {
		log.Fatalf("❌ Contact seeding failed: %v", err)
	}
	log.Printf("✓ Created %d direct conversations", len(directs))

	groups, err := s.seedGroups(ctx, users, *numGroups)
	if err != nil {
		log.Fatalf("❌ Group seeding failed: %v", err)
	}
	log.Printf("✓ Created %d groups", len(groups))

	count, err := s.seedMessages(ctx, append(directs, groups...), *perConv)
	if err != nil {
		log.Fatalf("❌ Message seeding failed: %v", err)
	}
	log.Printf("✓ Created %d messages", count)

	log.Println("✨ All done!")
}

func newSeeder(db *gorm.DB) *seeder {
	locks := service.NewKeyedMutex()
	userRepo := repository.NewUserRepository(db)
	convs := service.NewConversationService(repository.NewConversationRepository(db), userRepo, nil, locks)
	return &seeder{
		db:       db,
		convs:    convs,
		contacts: service.NewContactService(repository.NewContactRepository(db), userRepo, convs, locks),
		messages: service.NewMessageService(repository.NewMessageRepository(db), convs, nil,
			featureflags.Parse("call_history=on"), locks),
	}
}

// clearAll deletes every row, children first.
func (s *seeder) clearAll() error {
	tables := database.PersistentModels()
	slices.Reverse(tables)
	for _, model := range tables {
		if err := s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(model).Error; err != nil {
			return fmt.Errorf("clear %T: %w", model, err)
		}
	}
	return nil
}

func (s *seeder) seedUsers(n int) ([]models.User, error) {
	users := make([]models.User, 0, n)
	for i := 0; i < n; i++ {
		person := gofakeit.Person()
		u := models.User{
			Username:    fmt.Sprintf("%s%d", gofakeit.Username(), i),
			DisplayName: person.FirstName + " " + person.LastName,
			Avatar:      person.Image,
		}
		if err := s.db.Create(&u).Error; err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// seedContacts links every user to a few others. Most requests are accepted,
// which creates the pair's direct conversation; the rest stay pending.
func (s *seeder) seedContacts(ctx context.Context, users []models.User) ([]uint, error) {
	var directs []uint
	for i := range users {
		for k := 0; k < 3; k++ {
			j := gofakeit.Number(0, len(users)-1)
			if j == i {
				continue
			}
			rel, err := s.contacts.Request(ctx, users[i].ID, users[j].ID)
			if models.ErrorCode(err) == models.CodeConflict {
				continue
			}
			if err != nil {
				return nil, err
			}
			if gofakeit.Number(1, 10) <= 2 {
				continue
			}
			_, conv, err := s.contacts.Accept(ctx, rel.ID, users[j].ID)
			if err != nil {
				return nil, err
			}
			if !slices.Contains(directs, conv.ID) {
				directs = append(directs, conv.ID)
			}
		}
	}
	return directs, nil
}

func (s *seeder) seedGroups(ctx context.Context, users []models.User, n int) ([]uint, error) {
	if len(users) < 3 {
		return nil, nil
	}
	groups := make([]uint, 0, n)
	for g := 0; g < n; g++ {
		creator := users[gofakeit.Number(0, len(users)-1)]
		target := gofakeit.Number(2, min(6, len(users)-1))
		var members []uint
		for len(members) < target {
			id := users[gofakeit.Number(0, len(users)-1)].ID
			if id != creator.ID && !slices.Contains(members, id) {
				members = append(members, id)
			}
		}

		conv, err := s.convs.CreateGroup(ctx, service.CreateGroupInput{
			CreatorID: creator.ID,
			MemberIDs: members,
			Name:      gofakeit.HipsterWord() + " " + gofakeit.Noun(),
		})
		if models.ErrorCode(err) == models.CodeConflict {
			continue
		}
		if err != nil {
			return nil, err
		}
		groups = append(groups, conv.ID)
	}
	return groups, nil
}

func (s *seeder) seedMessages(ctx context.Context, convIDs []uint, perConv int) (int, error) {
	count := 0
	for _, convID := range convIDs {
		conv, err := s.convs.Get(ctx, convID)
		if err != nil {
			return count, err
		}
		memberIDs := conv.MemberIDs()

		var last *models.Message
		for i := 0; i < perConv; i++ {
			sender := memberIDs[gofakeit.Number(0, len(memberIDs)-1)]
			msg, err := s.messages.Create(ctx, service.CreateMessageInput{
				ConversationID: convID,
				SenderID:       sender,
				Content:        gofakeit.Sentence(gofakeit.Number(3, 18)),
			}, nil)
			if err != nil {
				return count, err
			}
			count++

			if last != nil && gofakeit.Bool() {
				reactor := memberIDs[gofakeit.Number(0, len(memberIDs)-1)]
				if _, err := s.messages.React(ctx, last.ID, reactor, gofakeit.Emoji(), nil); err != nil {
					return count, err
				}
			}
			last = msg
		}
	}
	return count, nil
}
