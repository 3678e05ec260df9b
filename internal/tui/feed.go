package tui

import (
	"fmt"
	"io"
	"strings"

	"forumchat/internal/models"
)

// RenderFeed writes one page of the forum feed.
func RenderFeed(w io.Writer, posts []models.Post, categories []models.Category) error {
	var b strings.Builder

	if len(categories) > 0 {
		names := make([]string, 0, len(categories))
		for _, c := range categories {
			names = append(names, c.Name)
		}
		b.WriteString(mutedStyle.Render("Categories: "+strings.Join(names, ", ")) + "\n\n")
	}

	if len(posts) == 0 {
		b.WriteString(mutedStyle.Render("No posts yet.") + "\n")
	}
	for _, p := range posts {
		b.WriteString(titleStyle.Render(p.Title) + "\n")
		meta := fmt.Sprintf("by %s · %s", p.Nickname, formatTime(p.CreatedAt))
		if len(p.Categories) > 0 {
			meta += " · " + strings.Join(p.Categories, ", ")
		}
		b.WriteString("  " + mutedStyle.Render(meta) + "\n")
		if p.Content != "" {
			b.WriteString("  " + truncate(p.Content, 160) + "\n")
		}
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderPost writes one post with its comments, oldest first.
func RenderPost(w io.Writer, post *models.PostDetails) error {
	var b strings.Builder

	b.WriteString(titleStyle.Render(post.Title) + "\n")
	meta := fmt.Sprintf("by %s · %s", post.Nickname, formatTime(post.CreatedAt))
	if len(post.Categories) > 0 {
		meta += " · " + strings.Join(post.Categories, ", ")
	}
	b.WriteString(mutedStyle.Render(meta) + "\n\n")
	b.WriteString(post.Content + "\n\n")

	b.WriteString(titleStyle.Render(fmt.Sprintf("Comments (%d)", len(post.Comments))) + "\n")
	for _, c := range post.Comments {
		b.WriteString("  " + mutedStyle.Render(c.Author+" · "+formatTime(c.CreatedAt)) + "\n")
		b.WriteString("  " + c.Content + "\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}
