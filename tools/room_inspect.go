package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/olekukonko/tablewriter"
)

// Prints one line per persisted room: activity, chat volume and suggestion backlog.
func main() {
	dsn := flag.String("db", os.Getenv("DATABASE_URL"), "Postgres connection string")
	prefix := flag.String("prefix", "", "Only rooms whose id starts with this prefix")
	limit := flag.Int("limit", 100, "Maximum number of rooms")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("Missing -db or DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, *dsn)
	if err != nil {
		log.Fatal("Error while connecting to Postgres: ", err)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	rows, err := conn.Query(ctx, `
		SELECT r.id, r.created_at, r.last_updated,
			(SELECT COUNT(*) FROM room_files f WHERE f.room_id = r.id),
			(SELECT COUNT(*) FROM chat_history c WHERE c.room_id = r.id),
			(SELECT COUNT(*) FROM suggestions s WHERE s.room_id = r.id AND s.status = 'pending'),
			(SELECT COUNT(*) FROM suggestions s WHERE s.room_id = r.id)
		FROM rooms r
		WHERE r.id LIKE $1
		ORDER BY r.last_updated DESC
		LIMIT $2`, *prefix+"%", *limit)
	if err != nil {
		log.Fatal("Error while listing rooms: ", err)
	}
	defer rows.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Room", "Created", "Last activity", "Files", "Messages", "Pending", "Suggestions"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	count := 0
	for rows.Next() {
		var (
			id                                    string
			createdAt, lastUpdated                time.Time
			files, messages, pending, suggestions int64
		)
		if err = rows.Scan(&id, &createdAt, &lastUpdated, &files, &messages, &pending, &suggestions); err != nil {
			fmt.Printf("Error scanning room: %v\n", err)
			continue
		}
		table.Append([]string{
			id,
			createdAt.Format(time.RFC3339),
			lastUpdated.Format(time.RFC3339),
			fmt.Sprint(files),
			fmt.Sprint(messages),
			fmt.Sprint(pending),
			fmt.Sprint(suggestions),
		})
		count++
	}
	if err = rows.Err(); err != nil {
		log.Fatal("Error while reading rooms: ", err)
	}

	table.Render()
	fmt.Printf("\n%s\n", strings.Repeat("-", 40))
	fmt.Printf("%d room(s) listed\n", count)
}
