package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	conversationColumns = "c.id, c.name, c.image, c.is_group, c.members, c.admins, " +
		"COALESCE(c.last_message_id, ''), c.last_message_content, c.last_message_type, " +
		"COALESCE(c.last_message_sender, 0), COALESCE(m.read_by, '{}'), c.last_message_at, " +
		"c.created_at, c.updated_at"
	conversationFrom = " FROM conversations c LEFT JOIN messages m ON m.id = c.last_message_id "
	messageColumns   = "id, conversation_id, sender_id, content, type, read_by, liked_by, created_at, updated_at"

	uniqueViolation = pq.ErrorCode("23505")
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var (
		c             Conversation
		members       pq.Int64Array
		admins        pq.Int64Array
		readBy        pq.Int64Array
		lastMessageAt sql.NullTime
	)

	err := row.Scan(
		&c.Id,
		&c.Name,
		&c.Image,
		&c.IsGroup,
		&members,
		&admins,
		&c.LastMessageId,
		&c.LastMessageContent,
		&c.LastMessageType,
		&c.LastMessageSender,
		&readBy,
		&lastMessageAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return Conversation{}, err
	}

	c.Members = ints(members)
	c.Admins = ints(admins)
	c.LastMessageReadBy = ints(readBy)
	if lastMessageAt.Valid {
		t := lastMessageAt.Time
		c.LastMessageAt = &t
	}

	return c, nil
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		msg     Message
		readBy  pq.Int64Array
		likedBy pq.Int64Array
	)

	err := row.Scan(
		&msg.Id,
		&msg.ConversationId,
		&msg.SenderId,
		&msg.Content,
		&msg.Type,
		&readBy,
		&likedBy,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	msg.ReadBy = ints(readBy)
	msg.LikedBy = ints(likedBy)
	return msg, nil
}

func (db *PgGoChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO accounts (name, email, avatar, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING id, name, email, avatar, created_at, updated_at",
		params.Name,
		params.EmailAddress,
		params.Avatar,
		params.PasswordHash,
		now,
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Name,
		&u.EmailAddress,
		&u.Avatar,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return User{}, fmt.Errorf("create account %q: %w", params.EmailAddress, ErrDuplicateEmail)
	}

	return u, err
}

func (db *PgGoChatRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, email, avatar, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Name,
		&user.EmailAddress,
		&user.Avatar,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgGoChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, email, avatar, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Name,
		&user.EmailAddress,
		&user.Avatar,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgGoChatRepository) GetAccountsByIds(ids []int) ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT id, name, email, avatar, created_at, updated_at FROM accounts WHERE id = ANY($1)",
		int64s(ids),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0, len(ids))
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Name, &u.EmailAddress, &u.Avatar, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgGoChatRepository) GetConversation(id string) (Conversation, error) {
	row := db.conn.QueryRow(
		"SELECT "+conversationColumns+conversationFrom+"WHERE c.id = $1 LIMIT 1",
		id,
	)

	return scanConversation(row)
}

func (db *PgGoChatRepository) FindDirectConversation(userA, userB int) (Conversation, error) {
	row := db.conn.QueryRow(
		"SELECT "+conversationColumns+conversationFrom+
			"WHERE c.is_group = FALSE AND c.members @> $1 AND cardinality(c.members) = 2 "+
			"ORDER BY c.created_at LIMIT 1",
		int64s([]int{userA, userB}),
	)

	return scanConversation(row)
}

func (db *PgGoChatRepository) CreateConversation(params CreateConversationParams) (Conversation, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO conversations (id, name, image, is_group, members, admins, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING created_at, updated_at",
		params.Id,
		params.Name,
		params.Image,
		params.IsGroup,
		int64s(params.Members),
		int64s(params.Admins),
		now,
	)

	conv := Conversation{
		Id:      params.Id,
		Name:    params.Name,
		Image:   params.Image,
		IsGroup: params.IsGroup,
		Members: append([]int(nil), params.Members...),
		Admins:  append([]int{}, params.Admins...),
	}
	if err := res.Scan(&conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return Conversation{}, err
	}

	return conv, nil
}

func (db *PgGoChatRepository) UpdateConversation(params UpdateConversationParams) (Conversation, error) {
	res, err := db.conn.Exec(
		"UPDATE conversations SET name = $2, image = $3, members = $4, admins = $5, updated_at = $6 "+
			"WHERE id = $1",
		params.Id,
		params.Name,
		params.Image,
		int64s(params.Members),
		int64s(params.Admins),
		time.Now().UTC(),
	)
	if err != nil {
		return Conversation{}, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Conversation{}, err
	}
	if n == 0 {
		return Conversation{}, sql.ErrNoRows
	}

	return db.GetConversation(params.Id)
}

// RemoveMember locks the conversation row so concurrent removals and
// updates apply one after the other.
func (db *PgGoChatRepository) RemoveMember(id string, accountId int) (Conversation, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Conversation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	conv, err := scanConversation(tx.QueryRow(
		"SELECT "+conversationColumns+conversationFrom+"WHERE c.id = $1 FOR UPDATE OF c",
		id,
	))
	if err != nil {
		return Conversation{}, err
	}
	if !conv.HasMember(accountId) {
		err = ErrNotMember
		return Conversation{}, err
	}

	conv.Members, conv.Admins = withoutMember(conv, accountId)
	conv.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(
		"UPDATE conversations SET members = $2, admins = $3, updated_at = $4 WHERE id = $1",
		id,
		int64s(conv.Members),
		int64s(conv.Admins),
		conv.UpdatedAt,
	)
	if err != nil {
		return Conversation{}, err
	}

	if err = tx.Commit(); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

func (db *PgGoChatRepository) DeleteConversation(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM messages WHERE conversation_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM conversations WHERE id = $1", id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgGoChatRepository) ListConversations(accountId int) ([]Conversation, error) {
	rows, err := db.conn.Query(
		"SELECT "+conversationColumns+conversationFrom+
			"WHERE $1 = ANY(c.members) ORDER BY c.updated_at DESC",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := make([]Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}

	return convs, rows.Err()
}

func (db *PgGoChatRepository) CountUnread(accountId int, conversationIds []string) (map[string]int, error) {
	rows, err := db.conn.Query(
		"SELECT conversation_id, COUNT(*) FROM messages "+
			"WHERE conversation_id = ANY($1) AND NOT ($2 = ANY(read_by)) GROUP BY conversation_id",
		pq.StringArray(conversationIds),
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int, len(conversationIds))
	for rows.Next() {
		var (
			id    string
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		counts[id] = count
	}

	return counts, rows.Err()
}

// CreateMessage inserts the message and moves the conversation's last
// message fields to it in the same transaction. The sender is the first
// reader of their own message.
func (db *PgGoChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	row := tx.QueryRow(
		"INSERT INTO messages (id, conversation_id, sender_id, content, type, read_by, liked_by, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, '{}', $7, $7) RETURNING "+messageColumns,
		params.Id,
		params.ConversationId,
		params.SenderId,
		params.Content,
		params.Type,
		int64s([]int{params.SenderId}),
		params.CreatedAt,
	)

	var msg Message
	msg, err = scanMessage(row)
	if err != nil {
		return Message{}, err
	}

	_, err = tx.Exec(
		"UPDATE conversations SET last_message_id = $2, last_message_content = $3, last_message_type = $4, "+
			"last_message_sender = $5, last_message_at = $6, updated_at = $6 WHERE id = $1",
		params.ConversationId,
		msg.Id,
		msg.Content,
		msg.Type,
		msg.SenderId,
		msg.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *PgGoChatRepository) GetMessage(id string) (Message, error) {
	row := db.conn.QueryRow("SELECT "+messageColumns+" FROM messages WHERE id = $1 LIMIT 1", id)
	return scanMessage(row)
}

func (db *PgGoChatRepository) GetMessages(conversationId string) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC, id DESC",
		conversationId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// DeleteMessage removes the message and points the conversation's last
// message fields at the newest remaining message, if any.
func (db *PgGoChatRepository) DeleteMessage(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var conversationId string
	err = tx.QueryRow("DELETE FROM messages WHERE id = $1 RETURNING conversation_id", id).Scan(&conversationId)
	if err != nil {
		return err
	}

	var (
		last     Message
		hasLast  = true
		lastTime sql.NullTime
	)
	err = tx.QueryRow(
		"SELECT id, content, type, sender_id, created_at FROM messages "+
			"WHERE conversation_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1",
		conversationId,
	).Scan(&last.Id, &last.Content, &last.Type, &last.SenderId, &lastTime)
	if err == sql.ErrNoRows {
		hasLast = false
		err = nil
	}
	if err != nil {
		return err
	}

	if hasLast {
		_, err = tx.Exec(
			"UPDATE conversations SET last_message_id = $2, last_message_content = $3, last_message_type = $4, "+
				"last_message_sender = $5, last_message_at = $6 WHERE id = $1",
			conversationId,
			last.Id,
			last.Content,
			last.Type,
			last.SenderId,
			lastTime,
		)
	} else {
		_, err = tx.Exec(
			"UPDATE conversations SET last_message_id = NULL, last_message_content = '', last_message_type = '', "+
				"last_message_sender = NULL, last_message_at = NULL WHERE id = $1",
			conversationId,
		)
	}
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgGoChatRepository) DeleteMessages(conversationId string) (int, error) {
	res, err := db.conn.Exec("DELETE FROM messages WHERE conversation_id = $1", conversationId)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

func (db *PgGoChatRepository) MarkMessagesRead(conversationId string, accountId int) (int, error) {
	res, err := db.conn.Exec(
		"UPDATE messages SET read_by = array_append(read_by, $2), updated_at = $3 "+
			"WHERE conversation_id = $1 AND NOT ($2 = ANY(read_by))",
		conversationId,
		accountId,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

func (db *PgGoChatRepository) LikeMessage(id string, accountId int) (bool, error) {
	res, err := db.conn.Exec(
		"UPDATE messages SET liked_by = array_append(liked_by, $2), updated_at = $3 "+
			"WHERE id = $1 AND NOT ($2 = ANY(liked_by))",
		id,
		accountId,
		time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	// nothing changed: either already liked or the message is gone
	var exists int
	if err := db.conn.QueryRow("SELECT 1 FROM messages WHERE id = $1", id).Scan(&exists); err != nil {
		return false, err
	}

	return false, nil
}
