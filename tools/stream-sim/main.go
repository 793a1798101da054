package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/feedstream/libs/changefeed"
)

func main() {
	var (
		baseURL   = flag.String("base-url", getenv("BASE_URL", "http://localhost:8090"), "stream-processor base url")
		aggregate = flag.String("aggregate", getenv("AGGREGATE", "post"), "post | comment | comment_like")
		op        = flag.String("op", getenv("OPERATION", "INSERT"), "INSERT | MODIFY | REMOVE")
		postID    = flag.String("post-id", getenv("POST_ID", "p1"), "post id")
		commentID = flag.String("comment-id", getenv("COMMENT_ID", "c1"), "comment id")
		userID    = flag.String("user-id", getenv("USER_ID", "u1"), "acting user id")
		inactive  = flag.Bool("inactive", false, "comment_like: write isActive=false")
		marker    = flag.Bool("marker", false, "write an event-marker row instead of a real one")
	)
	flag.Parse()

	rec, err := buildRecord(*aggregate, changefeed.Operation(strings.ToUpper(*op)), *postID, *commentID, *userID, !*inactive, time.Now().UTC())
	if err != nil {
		fatal(err.Error())
	}
	if *marker {
		for name := range rec.Keys {
			if v, ok := rec.Keys.String(name); ok {
				rec.Keys[name] = changefeed.StringValue("EVENT#" + v)
			}
		}
	}

	body, err := json.Marshal(map[string]any{"Records": []changefeed.ChangeRecord{rec}})
	if err != nil {
		fatal(err.Error())
	}

	url := strings.TrimRight(*baseURL, "/") + "/v1/streams/" + *aggregate + "/batches"
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	fmt.Printf("status=%d event_id=%s\n%s", resp.StatusCode, rec.EventID, out)
}

func buildRecord(aggregate string, op changefeed.Operation, postID, commentID, userID string, active bool, now time.Time) (changefeed.ChangeRecord, error) {
	s := changefeed.StringValue
	ts := s(now.Format(time.RFC3339))
	rec := changefeed.ChangeRecord{EventID: uuid.NewString(), Operation: op, ApproximateCreatedAt: now}

	var image changefeed.Attributes
	switch aggregate {
	case "post":
		rec.Keys = changefeed.Attributes{"postId": s(postID)}
		image = changefeed.Attributes{"postId": s(postID), "userId": s(userID), "createdAt": ts, "updatedAt": ts}
	case "comment":
		rec.Keys = changefeed.Attributes{"commentId": s(commentID)}
		image = changefeed.Attributes{"commentId": s(commentID), "postId": s(postID), "userId": s(userID), "createdAt": ts, "updatedAt": ts}
	case "comment_like":
		likeID := commentID + "#" + userID
		rec.Keys = changefeed.Attributes{"commentLikeId": s(likeID)}
		image = changefeed.Attributes{
			"commentLikeId": s(likeID),
			"commentId":     s(commentID),
			"userId":        s(userID),
			"isActive":      changefeed.BoolValue(active),
			"createdAt":     ts,
		}
	default:
		return changefeed.ChangeRecord{}, fmt.Errorf("unsupported aggregate: %s", aggregate)
	}

	switch op {
	case changefeed.OpInsert, changefeed.OpModify:
		rec.NewImage = image
	case changefeed.OpRemove:
		rec.OldImage = image
	default:
		return changefeed.ChangeRecord{}, fmt.Errorf("unsupported operation: %s", op)
	}
	return rec, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
